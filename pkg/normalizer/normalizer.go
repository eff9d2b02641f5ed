// Package normalizer переводит payload заказа маркетплейса в каноническую модель.
// Пакет ничего не пишет в базу: дедупликация продавца и покупателя и атомарная
// фиксация графа выполняются хранилищем.
package normalizer

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/IPampurin/order-webhooks/pkg/models"
)

var (
	ErrInvalidJSON    = errors.New("payload не является JSON объектом")
	ErrMissingOrderID = errors.New("в payload нет идентификатора заказа")
)

type Normalizer struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Normalizer {

	if log == nil {
		log = zap.NewNop()
	}

	return &Normalizer{log: log.Named("normalizer")}
}

// Normalize строит граф заказа из payload, статус берётся из аргумента, а не из payload
func (n *Normalizer) Normalize(raw []byte, status string) (*models.Order, error) {

	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidJSON
	}
	p := gjson.ParseBytes(raw)
	if !p.IsObject() {
		return nil, ErrInvalidJSON
	}

	orderID := firstString(p, "id", "orderId")
	if orderID == "" {
		return nil, ErrMissingOrderID
	}

	total := p.Get("total")
	details := make([]byte, len(raw))
	copy(details, raw)

	order := &models.Order{
		OrderID:             orderID,
		DisplayID:           str(p.Get("displayId")),
		OrderCreatedAt:      timestamp(p.Get("createdAt")),
		Category:            str(p.Get("category")),
		OrderTiming:         str(p.Get("orderTiming")),
		OrderType:           str(p.Get("orderType")),
		PreparationStart:    timestamp(p.Get("preparationStartDateTime")),
		IsTest:              boolean(p.Get("isTest")),
		SalesChannel:        str(p.Get("salesChannel")),
		Status:              status,
		OrderAmount:         num(total.Get("orderAmount")),
		SubTotal:            num(total.Get("subTotal")),
		DeliveryFee:         num(total.Get("deliveryFee")),
		Benefits:            num(total.Get("benefits")),
		AdditionalFeesTotal: num(total.Get("additionalFees")),
		Details:             datatypes.JSON(details),
		Merchant:            merchant(p.Get("merchant")),
		Customer:            customer(p.Get("customer")),
		Delivery:            delivery(p.Get("delivery")),
	}

	order.Items = n.items(orderID, p.Get("items"))
	order.Payments = n.payments(orderID, p.Get("payments"))
	order.AdditionalFees = n.fees(orderID, p.Get("additionalFees"))

	return order, nil
}

// firstString возвращает первое непустое значение по списку путей
func firstString(p gjson.Result, paths ...string) string {

	for _, path := range paths {
		if r := p.Get(path); present(r) && r.String() != "" {
			return r.String()
		}
	}

	return ""
}

func merchant(m gjson.Result) *models.Merchant {

	id := firstString(m, "id")
	if !m.IsObject() || id == "" {
		return nil
	}

	return &models.Merchant{ExternalID: id, Name: str(m.Get("name"))}
}

func customer(c gjson.Result) *models.Customer {

	id := firstString(c, "id")
	if !c.IsObject() || id == "" {
		return nil
	}
	phone := c.Get("phone")

	return &models.Customer{
		ExternalID:               id,
		Name:                     str(c.Get("name")),
		DocumentNumber:           str(c.Get("documentNumber")),
		PhoneNumber:              str(phone.Get("number")),
		PhoneLocalizer:           str(phone.Get("localizer")),
		PhoneLocalizerExpiration: timestamp(phone.Get("localizerExpiration")),
		OrdersCountOnMerchant:    integer(c.Get("ordersCountOnMerchant")),
		Segmentation:             str(c.Get("segmentation")),
	}
}

func delivery(d gjson.Result) *models.Delivery {

	// без блока доставки запись не создаётся
	if !d.IsObject() {
		return nil
	}
	a := d.Get("deliveryAddress")
	coords := a.Get("coordinates")

	return &models.Delivery{
		Mode:                str(d.Get("mode")),
		Description:         str(d.Get("description")),
		DeliveredBy:         str(d.Get("deliveredBy")),
		DeliveryDateTime:    timestamp(d.Get("deliveryDateTime")),
		Observations:        str(d.Get("observations")),
		PickupCode:          str(d.Get("pickupCode")),
		AddressStreet:       str(a.Get("streetName")),
		AddressNumber:       str(a.Get("streetNumber")),
		AddressFormatted:    str(a.Get("formattedAddress")),
		AddressNeighborhood: str(a.Get("neighborhood")),
		AddressComplement:   str(a.Get("complement")),
		AddressPostalCode:   str(a.Get("postalCode")),
		AddressCity:         str(a.Get("city")),
		AddressState:        str(a.Get("state")),
		AddressCountry:      str(a.Get("country")),
		AddressReference:    str(a.Get("reference")),
		AddressLatitude:     num(coords.Get("latitude")),
		AddressLongitude:    num(coords.Get("longitude")),
	}
}

func (n *Normalizer) items(orderID string, arr gjson.Result) []models.Item {

	if !arr.IsArray() {
		return nil
	}

	var out []models.Item
	for idx, it := range arr.Array() {
		// индекс берём из позиции в массиве, даже если элементы пропускаются
		if !it.IsObject() {
			n.log.Warn("позиция заказа пропущена: не объект",
				zap.String("order_id", orderID), zap.Int("index", idx), zap.String("raw", it.Raw))
			continue
		}
		item := models.Item{
			Index:        idx,
			ExternalID:   str(it.Get("id")),
			UniqueID:     str(it.Get("uniqueId")),
			Name:         str(it.Get("name")),
			ExternalCode: str(it.Get("externalCode")),
			EAN:          str(it.Get("ean")),
			Quantity:     num(it.Get("quantity")),
			Unit:         str(it.Get("unit")),
			UnitPrice:    num(it.Get("unitPrice")),
			OptionsPrice: num(it.Get("optionsPrice")),
			TotalPrice:   num(it.Get("totalPrice")),
			Price:        num(it.Get("price")),
			Observations: str(it.Get("observations")),
			ImageURL:     str(it.Get("imageUrl")),
			Type:         str(it.Get("type")),
		}
		item.Options = n.options(orderID, it.Get("options"))
		out = append(out, item)
	}

	return out
}

func (n *Normalizer) options(orderID string, arr gjson.Result) []models.Option {

	if !arr.IsArray() {
		return nil
	}

	var out []models.Option
	for idx, op := range arr.Array() {
		if !op.IsObject() {
			n.log.Warn("опция пропущена: не объект",
				zap.String("order_id", orderID), zap.Int("index", idx))
			continue
		}
		option := models.Option{
			Index:        idx,
			ExternalID:   str(op.Get("id")),
			Name:         str(op.Get("name")),
			Type:         str(op.Get("type")),
			GroupName:    str(op.Get("groupName")),
			ExternalCode: str(op.Get("externalCode")),
			EAN:          str(op.Get("ean")),
			Quantity:     num(op.Get("quantity")),
			Unit:         str(op.Get("unit")),
			UnitPrice:    num(op.Get("unitPrice")),
			Addition:     num(op.Get("addition")),
			Price:        num(op.Get("price")),
			OptionType:   str(op.Get("optionType")),
		}

		if cs := op.Get("customizations"); cs.IsArray() {
			for cidx, c := range cs.Array() {
				if !c.IsObject() {
					continue
				}
				option.Customizations = append(option.Customizations, models.Customization{
					Index:        cidx,
					ExternalID:   str(c.Get("id")),
					ExternalCode: str(c.Get("externalCode")),
					Name:         str(c.Get("name")),
					GroupName:    str(c.Get("groupName")),
					Type:         str(c.Get("type")),
					Quantity:     num(c.Get("quantity")),
					UnitPrice:    num(c.Get("unitPrice")),
					Addition:     num(c.Get("addition")),
					Price:        num(c.Get("price")),
				})
			}
		}
		out = append(out, option)
	}

	return out
}

func (n *Normalizer) payments(orderID string, p gjson.Result) []models.Payment {

	// payments бывает массивом или объектом со списком methods
	arr := p
	if p.IsObject() {
		arr = p.Get("methods")
	}
	if !arr.IsArray() {
		return nil
	}

	var out []models.Payment
	for idx, pm := range arr.Array() {
		// голые строки и числа вместо записи пропускаем, заказ не роняем
		if !pm.IsObject() {
			n.log.Warn("платёж пропущен: не объект",
				zap.String("order_id", orderID), zap.Int("index", idx), zap.String("raw", pm.Raw))
			continue
		}
		out = append(out, models.Payment{
			Index:     idx,
			Value:     num(pm.Get("value")),
			Currency:  str(pm.Get("currency")),
			Method:    str(pm.Get("method")),
			Prepaid:   boolean(pm.Get("prepaid")),
			Type:      str(pm.Get("type")),
			CardBrand: str(pm.Get("card.brand")),
		})
	}

	return out
}

func (n *Normalizer) fees(orderID string, arr gjson.Result) []models.AdditionalFee {

	if !arr.IsArray() {
		return nil
	}

	var out []models.AdditionalFee
	for idx, f := range arr.Array() {
		if !f.IsObject() {
			n.log.Warn("сбор пропущен: не объект",
				zap.String("order_id", orderID), zap.Int("index", idx))
			continue
		}
		out = append(out, models.AdditionalFee{
			Index:           idx,
			Type:            str(f.Get("type")),
			Description:     str(f.Get("description")),
			FullDescription: str(f.Get("fullDescription")),
			Value:           num(f.Get("value")),
			Liabilities:     datatypes.JSON(rawJSON(f.Get("liabilities"))),
		})
	}

	return out
}

// Describe кратко описывает заказ для логов
func Describe(o *models.Order) string {
	return fmt.Sprintf("order=%s items=%d payments=%d fees=%d", o.OrderID, len(o.Items), len(o.Payments), len(o.AdditionalFees))
}
