package domain

// MessageOutcome — событие жизненного цикла одного сообщения,
// приходящее от провайдера. Обновляет поведенческие счетчики чипа.
type MessageOutcome string

const (
	OutcomeSent      MessageOutcome = "sent"      // ушло провайдеру
	OutcomeDelivered MessageOutcome = "delivered" // доставлено получателю
	OutcomeBlocked   MessageOutcome = "blocked"   // получатель заблокировал чип
	OutcomeErrored   MessageOutcome = "errored"   // ошибка провайдера
	OutcomeResponded MessageOutcome = "responded" // получен входящий ответ
)

func (o MessageOutcome) Valid() bool {
	switch o {
	case OutcomeSent, OutcomeDelivered, OutcomeBlocked, OutcomeErrored, OutcomeResponded:
		return true
	}
	return false
}
