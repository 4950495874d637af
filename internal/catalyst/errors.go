package catalyst

import (
	"errors"
	"fmt"
	"strings"
)

// Kind классифицирует ошибку бэкенда для выбора сообщения пользователю.
type Kind string

const (
	KindUnknown             Kind = "unknown"
	KindDuplicateItem       Kind = "duplicate_item"
	KindReservationConflict Kind = "reservation_conflict"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindNotFound            Kind = "not_found"
)

// Error описывает неуспешный ответ функции бэкенда: HTTP-статус не 2xx
// или конверт с success=false.
type Error struct {
	Endpoint string
	Status   int
	Kind     Kind
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalyst %s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

// KindOf возвращает вид ошибки бэкенда или KindUnknown для прочих ошибок.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

var codeKinds = map[string]Kind{
	"DUPLICATE_ITEM":       KindDuplicateItem,
	"ALREADY_IN_CART":      KindDuplicateItem,
	"RESERVATION_CONFLICT": KindReservationConflict,
	"DOMAIN_RESERVED":      KindReservationConflict,
	"INSUFFICIENT_CREDITS": KindInsufficientCredits,
	"NOT_FOUND":            KindNotFound,
}

// Фразы, которые бэкенд возвращает без кода ошибки. Формулировки
// не являются контрактом и используются только при отсутствии code.
var messageKinds = []struct {
	phrase string
	kind   Kind
}{
	{"already in cart", KindDuplicateItem},
	{"reserved by another user", KindReservationConflict},
	{"already reserved", KindReservationConflict},
	{"insufficient credits", KindInsufficientCredits},
	{"not found", KindNotFound},
}

func classify(code, message string) Kind {
	if k, ok := codeKinds[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return k
	}

	lower := strings.ToLower(message)
	for _, mk := range messageKinds {
		if strings.Contains(lower, mk.phrase) {
			return mk.kind
		}
	}
	return KindUnknown
}
