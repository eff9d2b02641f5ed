package ingest

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// правила извлечения идентификаторов, побеждает первое непустое значение
var (
	orderIDPaths        = []string{"orderId", "id"}
	eventCodePaths      = []string{"fullCode", "eventType", "status", "code"}
	merchantIDPaths     = []string{"merchantId", "merchant.id", "merchantIds.0"}
	previousStatusPaths = []string{"metadata.triggerEvent.previousStatus", "metadata.previousStatus"}
)

// Envelope - идентификаторы вебхука, без которых его нельзя обработать
type Envelope struct {
	OrderID        string `validate:"required,max=255"`
	MerchantID     string `validate:"required,max=255"`
	EventCode      string `validate:"required,max=64"`
	PreviousStatus string `validate:"max=64"`
}

func extract(p gjson.Result) Envelope {

	return Envelope{
		OrderID:        first(p, orderIDPaths),
		MerchantID:     first(p, merchantIDPaths),
		EventCode:      strings.ToUpper(first(p, eventCodePaths)),
		PreviousStatus: strings.ToUpper(first(p, previousStatusPaths)),
	}
}

func first(p gjson.Result, paths []string) string {

	for _, path := range paths {
		r := p.Get(path)
		// вложенные объекты идентификатором не считаем
		if !r.Exists() || r.IsObject() || r.IsArray() {
			continue
		}
		if s := strings.TrimSpace(r.String()); s != "" {
			return s
		}
	}

	return ""
}

// hasFullOrder - тело вебхука уже содержит детали заказа и запрос к API не нужен
func hasFullOrder(p gjson.Result) bool {
	return p.Get("items").IsArray() || (p.Get("merchant").IsObject() && p.Get("customer").IsObject())
}

// validationMessage переводит ошибки валидатора в короткое сообщение для ответа
func validationMessage(err error) string {

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields = append(fields, fmt.Sprintf("нет поля %s", fe.Field()))
		default:
			fields = append(fields, fmt.Sprintf("поле %s не прошло проверку %s", fe.Field(), fe.Tag()))
		}
	}

	return strings.Join(fields, "; ")
}
