package models

import (
	"encoding/json"
	"time"
)

// OrderView - представление заказа для API чтения, повторяет формат маркетплейса
type OrderView struct {
	ID                       string              `json:"id"`
	DisplayID                *string             `json:"displayId"`
	CreatedAt                *string             `json:"createdAt"`
	Category                 *string             `json:"category"`
	OrderTiming              *string             `json:"orderTiming"`
	OrderType                *string             `json:"orderType"`
	PreparationStartDateTime *string             `json:"preparationStartDateTime"`
	IsTest                   *bool               `json:"isTest"`
	SalesChannel             *string             `json:"salesChannel"`
	FullCode                 string              `json:"fullCode"`
	Merchant                 any                 `json:"merchant"`
	Customer                 any                 `json:"customer"`
	Delivery                 any                 `json:"delivery"`
	Items                    []ItemView          `json:"items"`
	Payments                 []PaymentView       `json:"payments"`
	AdditionalFees           []AdditionalFeeView `json:"additionalFees"`
	Total                    TotalView           `json:"total"`
	Details                  json.RawMessage     `json:"details"`
}

type MerchantView struct {
	ID   string  `json:"id"`
	Name *string `json:"name"`
}

type PhoneView struct {
	Number              *string `json:"number"`
	Localizer           *string `json:"localizer"`
	LocalizerExpiration *string `json:"localizerExpiration"`
}

type CustomerView struct {
	ID                    string    `json:"id"`
	Name                  *string   `json:"name"`
	DocumentNumber        *string   `json:"documentNumber"`
	Phone                 PhoneView `json:"phone"`
	OrdersCountOnMerchant *int      `json:"ordersCountOnMerchant"`
	Segmentation          *string   `json:"segmentation"`
}

type CoordinatesView struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type AddressView struct {
	StreetName       *string         `json:"streetName"`
	StreetNumber     *string         `json:"streetNumber"`
	FormattedAddress *string         `json:"formattedAddress"`
	Neighborhood     *string         `json:"neighborhood"`
	Complement       *string         `json:"complement"`
	PostalCode       *string         `json:"postalCode"`
	City             *string         `json:"city"`
	State            *string         `json:"state"`
	Country          *string         `json:"country"`
	Reference        *string         `json:"reference"`
	Coordinates      CoordinatesView `json:"coordinates"`
}

type DeliveryView struct {
	Mode             *string     `json:"mode"`
	Description      *string     `json:"description"`
	DeliveredBy      *string     `json:"deliveredBy"`
	DeliveryDateTime *string     `json:"deliveryDateTime"`
	Observations     *string     `json:"observations"`
	PickupCode       *string     `json:"pickupCode"`
	DeliveryAddress  AddressView `json:"deliveryAddress"`
}

type CustomizationView struct {
	ID           *string  `json:"id"`
	ExternalCode *string  `json:"externalCode"`
	Name         *string  `json:"name"`
	GroupName    *string  `json:"groupName"`
	Type         *string  `json:"type"`
	Quantity     *float64 `json:"quantity"`
	UnitPrice    *float64 `json:"unitPrice"`
	Addition     *float64 `json:"addition"`
	Price        *float64 `json:"price"`
}

type OptionView struct {
	ID             *string             `json:"id"`
	Name           *string             `json:"name"`
	Type           *string             `json:"type"`
	GroupName      *string             `json:"groupName"`
	ExternalCode   *string             `json:"externalCode"`
	EAN            *string             `json:"ean"`
	Quantity       *float64            `json:"quantity"`
	Unit           *string             `json:"unit"`
	UnitPrice      *float64            `json:"unitPrice"`
	Addition       *float64            `json:"addition"`
	Price          *float64            `json:"price"`
	OptionType     *string             `json:"optionType"`
	Customizations []CustomizationView `json:"customizations"`
}

type ItemView struct {
	ID           *string      `json:"id"`
	UniqueID     *string      `json:"uniqueId"`
	Name         *string      `json:"name"`
	ExternalCode *string      `json:"externalCode"`
	EAN          *string      `json:"ean"`
	Quantity     *float64     `json:"quantity"`
	Unit         *string      `json:"unit"`
	UnitPrice    *float64     `json:"unitPrice"`
	OptionsPrice *float64     `json:"optionsPrice"`
	TotalPrice   *float64     `json:"totalPrice"`
	Price        *float64     `json:"price"`
	Observations *string      `json:"observations"`
	ImageURL     *string      `json:"imageUrl"`
	Type         *string      `json:"type"`
	Options      []OptionView `json:"options"`
}

type CardView struct {
	Brand string `json:"brand"`
}

type PaymentView struct {
	Value    *float64  `json:"value"`
	Currency *string   `json:"currency"`
	Method   *string   `json:"method"`
	Prepaid  *bool     `json:"prepaid"`
	Type     *string   `json:"type"`
	Card     *CardView `json:"card"`
}

type AdditionalFeeView struct {
	Type            *string         `json:"type"`
	Description     *string         `json:"description"`
	FullDescription *string         `json:"fullDescription"`
	Value           *float64        `json:"value"`
	Liabilities     json.RawMessage `json:"liabilities"`
}

type TotalView struct {
	OrderAmount    *float64 `json:"orderAmount"`
	SubTotal       *float64 `json:"subTotal"`
	DeliveryFee    *float64 `json:"deliveryFee"`
	Benefits       *float64 `json:"benefits"`
	AdditionalFees *float64 `json:"additionalFees"`
}

// View собирает представление заказа, коллекции должны быть уже отсортированы по Index
func (o *Order) View() OrderView {

	v := OrderView{
		ID:                       o.OrderID,
		DisplayID:                o.DisplayID,
		CreatedAt:                formatTime(o.OrderCreatedAt),
		Category:                 o.Category,
		OrderTiming:              o.OrderTiming,
		OrderType:                o.OrderType,
		PreparationStartDateTime: formatTime(o.PreparationStart),
		IsTest:                   o.IsTest,
		SalesChannel:             o.SalesChannel,
		FullCode:                 o.Status,
		Merchant:                 map[string]any{},
		Customer:                 map[string]any{},
		Delivery:                 map[string]any{},
		Items:                    make([]ItemView, 0, len(o.Items)),
		Payments:                 make([]PaymentView, 0, len(o.Payments)),
		AdditionalFees:           make([]AdditionalFeeView, 0, len(o.AdditionalFees)),
		Total: TotalView{
			OrderAmount:    o.OrderAmount,
			SubTotal:       o.SubTotal,
			DeliveryFee:    o.DeliveryFee,
			Benefits:       o.Benefits,
			AdditionalFees: o.AdditionalFeesTotal,
		},
		Details: rawOrNull(o.Details),
	}

	// отсутствующие связанные сущности отдаём пустым объектом, а не null
	if o.Merchant != nil {
		v.Merchant = MerchantView{ID: o.Merchant.ExternalID, Name: o.Merchant.Name}
	}
	if c := o.Customer; c != nil {
		v.Customer = CustomerView{
			ID:             c.ExternalID,
			Name:           c.Name,
			DocumentNumber: c.DocumentNumber,
			Phone: PhoneView{
				Number:              c.PhoneNumber,
				Localizer:           c.PhoneLocalizer,
				LocalizerExpiration: formatTime(c.PhoneLocalizerExpiration),
			},
			OrdersCountOnMerchant: c.OrdersCountOnMerchant,
			Segmentation:          c.Segmentation,
		}
	}
	if d := o.Delivery; d != nil {
		v.Delivery = DeliveryView{
			Mode:             d.Mode,
			Description:      d.Description,
			DeliveredBy:      d.DeliveredBy,
			DeliveryDateTime: formatTime(d.DeliveryDateTime),
			Observations:     d.Observations,
			PickupCode:       d.PickupCode,
			DeliveryAddress: AddressView{
				StreetName:       d.AddressStreet,
				StreetNumber:     d.AddressNumber,
				FormattedAddress: d.AddressFormatted,
				Neighborhood:     d.AddressNeighborhood,
				Complement:       d.AddressComplement,
				PostalCode:       d.AddressPostalCode,
				City:             d.AddressCity,
				State:            d.AddressState,
				Country:          d.AddressCountry,
				Reference:        d.AddressReference,
				Coordinates: CoordinatesView{
					Latitude:  d.AddressLatitude,
					Longitude: d.AddressLongitude,
				},
			},
		}
	}

	for _, it := range o.Items {
		iv := ItemView{
			ID:           it.ExternalID,
			UniqueID:     it.UniqueID,
			Name:         it.Name,
			ExternalCode: it.ExternalCode,
			EAN:          it.EAN,
			Quantity:     it.Quantity,
			Unit:         it.Unit,
			UnitPrice:    it.UnitPrice,
			OptionsPrice: it.OptionsPrice,
			TotalPrice:   it.TotalPrice,
			Price:        it.Price,
			Observations: it.Observations,
			ImageURL:     it.ImageURL,
			Type:         it.Type,
			Options:      make([]OptionView, 0, len(it.Options)),
		}
		for _, op := range it.Options {
			ov := OptionView{
				ID:             op.ExternalID,
				Name:           op.Name,
				Type:           op.Type,
				GroupName:      op.GroupName,
				ExternalCode:   op.ExternalCode,
				EAN:            op.EAN,
				Quantity:       op.Quantity,
				Unit:           op.Unit,
				UnitPrice:      op.UnitPrice,
				Addition:       op.Addition,
				Price:          op.Price,
				OptionType:     op.OptionType,
				Customizations: make([]CustomizationView, 0, len(op.Customizations)),
			}
			for _, cu := range op.Customizations {
				ov.Customizations = append(ov.Customizations, CustomizationView{
					ID:           cu.ExternalID,
					ExternalCode: cu.ExternalCode,
					Name:         cu.Name,
					GroupName:    cu.GroupName,
					Type:         cu.Type,
					Quantity:     cu.Quantity,
					UnitPrice:    cu.UnitPrice,
					Addition:     cu.Addition,
					Price:        cu.Price,
				})
			}
			iv.Options = append(iv.Options, ov)
		}
		v.Items = append(v.Items, iv)
	}

	for _, p := range o.Payments {
		pv := PaymentView{
			Value:    p.Value,
			Currency: p.Currency,
			Method:   p.Method,
			Prepaid:  p.Prepaid,
			Type:     p.Type,
		}
		// card: null, если бренд не передан
		if p.CardBrand != nil && *p.CardBrand != "" {
			pv.Card = &CardView{Brand: *p.CardBrand}
		}
		v.Payments = append(v.Payments, pv)
	}

	for _, f := range o.AdditionalFees {
		v.AdditionalFees = append(v.AdditionalFees, AdditionalFeeView{
			Type:            f.Type,
			Description:     f.Description,
			FullDescription: f.FullDescription,
			Value:           f.Value,
			Liabilities:     rawOrNull(f.Liabilities),
		})
	}

	return v
}

func formatTime(t *time.Time) *string {

	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)

	return &s
}

func rawOrNull(b []byte) json.RawMessage {

	if len(b) == 0 {
		return json.RawMessage("null")
	}

	return json.RawMessage(b)
}
