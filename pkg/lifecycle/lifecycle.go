// Package lifecycle решает, что делать с заказом при очередном событии маркетплейса.
package lifecycle

import "strings"

// статусы заказа в базе
const (
	StatusReceived    = "received"
	StatusAccepted    = "accepted"
	StatusReadyToShip = "ready_to_ship"
	StatusDispatched  = "dispatched"
	StatusDelivered   = "delivered"
	StatusCancelled   = "cancelled"
)

// коды событий маркетплейса
const (
	EventPlaced      = "PLACED"
	EventConfirmed   = "CONFIRMED"
	EventReadyToShip = "READY_TO_SHIP"
	EventDispatched  = "DISPATCHED"
	EventDelivered   = "DELIVERED"
	EventCancelled   = "CANCELLED"
	EventKeepalive   = "KEEPALIVE"
)

var eventStatus = map[string]string{
	EventPlaced:      StatusReceived,
	EventConfirmed:   StatusAccepted,
	EventReadyToShip: StatusReadyToShip,
	EventDispatched:  StatusDispatched,
	EventDelivered:   StatusDelivered,
	EventCancelled:   StatusCancelled,
}

// Event - входящее событие: код и заявленный маркетплейсом предыдущий статус
type Event struct {
	Code          string
	PreviousClaim string
}

// Decision - результат разбора события
type Decision struct {
	Status       string // статус, который должен оказаться в базе
	Apply        bool   // записать Status
	Create       bool   // заказа нет, нужно создать
	Confirm      bool   // подтвердить заказ у маркетплейса
	Print        bool   // напечатать этикетку
	NotFound     bool   // заказа нет и событие не создаёт его
	Keepalive    bool
	Ignored      bool // событие пришло после финального статуса
	Unrecognized bool // код неизвестен, статус - код в нижнем регистре
	Reason       string
}

// IsKeepalive сравнивает код с маркером keepalive без учёта регистра
func IsKeepalive(code string) bool {
	return strings.EqualFold(strings.TrimSpace(code), EventKeepalive)
}

// IsTerminal возвращает true для финальных статусов
func IsTerminal(status string) bool {
	return status == StatusDelivered || status == StatusCancelled
}

// StatusFor возвращает статус для кода события и признак, что код известен
func StatusFor(code string) (string, bool) {

	s, ok := eventStatus[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return strings.ToLower(strings.TrimSpace(code)), false
	}

	return s, true
}

// Decide применяет таблицу переходов, current == nil означает, что заказа в базе нет
func Decide(ev Event, current *string) Decision {

	code := strings.ToUpper(strings.TrimSpace(ev.Code))
	claim := strings.ToUpper(strings.TrimSpace(ev.PreviousClaim))

	// keepalive обрабатывается до поиска заказа
	if code == EventKeepalive {
		return Decision{Keepalive: true, Reason: "keepalive"}
	}

	// неизвестный заказ создаётся только событием PLACED
	if current == nil {
		if code == EventPlaced {
			return Decision{Status: StatusReceived, Create: true, Reason: "новый заказ"}
		}
		return Decision{NotFound: true, Reason: "заказ не найден"}
	}

	// после финального статуса события не применяются
	if IsTerminal(*current) {
		return Decision{Status: *current, Ignored: true, Reason: "заказ уже в финальном статусе " + *current}
	}

	status, known := StatusFor(code)
	if !known {
		return Decision{Status: status, Apply: true, Unrecognized: true, Reason: "неизвестный код события"}
	}

	switch code {
	case EventPlaced:
		// повторная доставка PLACED не должна вызывать повторное подтверждение и печать
		redelivery := claim == EventPlaced || claim == EventConfirmed
		return Decision{
			Status:  status,
			Apply:   true,
			Confirm: !redelivery,
			Print:   !redelivery,
			Reason:  "PLACED для известного заказа",
		}
	default:
		if claim == code {
			return Decision{Status: *current, Reason: "повтор события " + code}
		}
		return Decision{Status: status, Apply: true, Reason: "переход по " + code}
	}
}
