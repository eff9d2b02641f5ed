// Package printing рендерит ZPL этикетку заказа и отправляет её на печать
package printing

import (
	"errors"
	"strconv"
	"strings"
	"text/template"

	"github.com/IPampurin/order-webhooks/pkg/models"
)

var ErrPrintFailure = errors.New("ошибка печати этикетки")

// LabelData - поля этикетки, пустая строка вместо отсутствующего значения
type LabelData struct {
	OrderID      string
	CustomerName string
	OrderAmount  string
}

// LabelFromOrder собирает данные этикетки, nil значения превращаются в ""
func LabelFromOrder(o *models.Order) LabelData {

	var d LabelData
	if o == nil {
		return d
	}

	d.OrderID = o.OrderID
	if o.Customer != nil && o.Customer.Name != nil {
		d.CustomerName = *o.Customer.Name
	}
	if o.OrderAmount != nil {
		d.OrderAmount = strconv.FormatFloat(*o.OrderAmount, 'f', -1, 64)
	}

	return d
}

var labelTmpl = template.Must(template.New("label").Funcs(template.FuncMap{"zpl": escapeZPL}).Parse(`
^XA
^PW800
^LL1200
^FO100,100^A0N,60,60^FDPedido: {{zpl .OrderID}}^FS
^FO100,200^A0N,50,50^FDCliente: {{zpl .CustomerName}}^FS
^FO100,300^A0N,50,50^FDTotal: R$ {{zpl .OrderAmount}}^FS
^XZ
`))

// RenderLabel рендерит ZPL этикетку
func RenderLabel(d LabelData) string {

	var sb strings.Builder
	// шаблон фиксирован и поля строковые, ошибка исполнения невозможна
	_ = labelTmpl.Execute(&sb, d)

	return sb.String()
}

// escapeZPL убирает управляющие символы ZPL из значений
func escapeZPL(s string) string {
	return strings.NewReplacer("^", " ", "~", " ").Replace(s)
}
