package models

import (
	"time"

	"gorm.io/datatypes"
)

// Merchant - магазин на маркетплейсе, общий для всех его заказов
type Merchant struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	ExternalID string    `json:"id" gorm:"column:merchant_id;size:255;uniqueIndex;not null"` // внешний идентификатор
	Name       *string   `json:"name"`
	CreatedAt  time.Time `json:"-"`
}

func (Merchant) TableName() string { return "order_merchants" }

// Customer - покупатель, общий для всех его заказов
type Customer struct {
	ID                       uint       `json:"-" gorm:"primaryKey"`
	ExternalID               string     `json:"id" gorm:"column:customer_id;size:255;uniqueIndex;not null"` // внешний идентификатор
	Name                     *string    `json:"name"`
	DocumentNumber           *string    `json:"documentNumber"`
	PhoneNumber              *string    `json:"phoneNumber"`
	PhoneLocalizer           *string    `json:"phoneLocalizer"`
	PhoneLocalizerExpiration *time.Time `json:"phoneLocalizerExpiration"`
	OrdersCountOnMerchant    *int       `json:"ordersCountOnMerchant"`
	Segmentation             *string    `json:"segmentation"`
	CreatedAt                time.Time  `json:"-"`
}

func (Customer) TableName() string { return "order_customers" }

// Delivery - доставка, создаётся заново для каждого заказа
type Delivery struct {
	ID                  uint       `json:"-" gorm:"primaryKey"`
	Mode                *string    `json:"mode"`
	Description         *string    `json:"description"`
	DeliveredBy         *string    `json:"deliveredBy"`
	DeliveryDateTime    *time.Time `json:"deliveryDateTime" gorm:"column:delivery_datetime"`
	Observations        *string    `json:"observations"`
	PickupCode          *string    `json:"pickupCode"`
	AddressStreet       *string    `json:"streetName"`
	AddressNumber       *string    `json:"streetNumber"`
	AddressFormatted    *string    `json:"formattedAddress"`
	AddressNeighborhood *string    `json:"neighborhood"`
	AddressComplement   *string    `json:"complement"`
	AddressPostalCode   *string    `json:"postalCode"`
	AddressCity         *string    `json:"city"`
	AddressState        *string    `json:"state"`
	AddressCountry      *string    `json:"country"`
	AddressReference    *string    `json:"reference"`
	AddressLatitude     *float64   `json:"latitude"`
	AddressLongitude    *float64   `json:"longitude"`
	CreatedAt           time.Time  `json:"-"`
}

func (Delivery) TableName() string { return "order_deliveries" }

// Order - заказ маркетплейса, OrderID уникален и служит ключом идемпотентности
type Order struct {
	ID                  uint           `json:"-" gorm:"primaryKey"`
	OrderID             string         `json:"id" gorm:"column:order_id;size:255;uniqueIndex;not null"`
	DisplayID           *string        `json:"displayId"`
	OrderCreatedAt      *time.Time     `json:"createdAt" gorm:"column:order_created_at"` // время создания заказа на маркетплейсе
	Category            *string        `json:"category"`
	OrderTiming         *string        `json:"orderTiming"`
	OrderType           *string        `json:"orderType"`
	PreparationStart    *time.Time     `json:"preparationStartDateTime" gorm:"column:preparation_start"`
	IsTest              *bool          `json:"isTest"`
	SalesChannel        *string        `json:"salesChannel"`
	Status              string         `json:"fullCode" gorm:"size:64;index;not null"`
	OrderAmount         *float64       `json:"orderAmount"`
	SubTotal            *float64       `json:"subTotal"`
	DeliveryFee         *float64       `json:"deliveryFee"`
	Benefits            *float64       `json:"benefits"`
	AdditionalFeesTotal *float64       `json:"additionalFeesTotal" gorm:"column:additional_fees_total"`
	Details             datatypes.JSON `json:"details"` // исходный payload целиком, только для аудита

	MerchantID *uint     `json:"-"`
	Merchant   *Merchant `json:"merchant,omitempty" gorm:"foreignKey:MerchantID;references:ID"`
	CustomerID *uint     `json:"-"`
	Customer   *Customer `json:"customer,omitempty" gorm:"foreignKey:CustomerID;references:ID"`
	DeliveryID *uint     `json:"-"`
	Delivery   *Delivery `json:"delivery,omitempty" gorm:"foreignKey:DeliveryID;references:ID"`

	Items          []Item          `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments       []Payment       `json:"payments" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	AdditionalFees []AdditionalFee `json:"additionalFees" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (Order) TableName() string { return "orders" }

// Item - позиция заказа, Index хранит порядок из payload
type Item struct {
	ID           uint     `json:"-" gorm:"primaryKey"`
	OrderID      uint     `json:"-" gorm:"index;not null"`
	Index        int      `json:"index" gorm:"column:position;not null"`
	ExternalID   *string  `json:"id" gorm:"column:external_id"`
	UniqueID     *string  `json:"uniqueId"`
	Name         *string  `json:"name"`
	ExternalCode *string  `json:"externalCode"`
	EAN          *string  `json:"ean" gorm:"column:ean"`
	Quantity     *float64 `json:"quantity"`
	Unit         *string  `json:"unit"`
	UnitPrice    *float64 `json:"unitPrice"`
	OptionsPrice *float64 `json:"optionsPrice"`
	TotalPrice   *float64 `json:"totalPrice"`
	Price        *float64 `json:"price"`
	Observations *string  `json:"observations"`
	ImageURL     *string  `json:"imageUrl" gorm:"column:image_url"`
	Type         *string  `json:"type"`
	Options      []Option `json:"options" gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
}

func (Item) TableName() string { return "order_items" }

// Option - опция (комплемент) позиции
type Option struct {
	ID             uint            `json:"-" gorm:"primaryKey"`
	ItemID         uint            `json:"-" gorm:"index;not null"`
	Index          int             `json:"index" gorm:"column:position;not null"`
	ExternalID     *string         `json:"id" gorm:"column:external_id"`
	Name           *string         `json:"name"`
	Type           *string         `json:"type"`
	GroupName      *string         `json:"groupName"`
	ExternalCode   *string         `json:"externalCode"`
	EAN            *string         `json:"ean" gorm:"column:ean"`
	Quantity       *float64        `json:"quantity"`
	Unit           *string         `json:"unit"`
	UnitPrice      *float64        `json:"unitPrice"`
	Addition       *float64        `json:"addition"`
	Price          *float64        `json:"price"`
	OptionType     *string         `json:"optionType"`
	Customizations []Customization `json:"customizations" gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE"`
}

func (Option) TableName() string { return "order_item_options" }

// Customization - кастомизация опции
type Customization struct {
	ID           uint     `json:"-" gorm:"primaryKey"`
	OptionID     uint     `json:"-" gorm:"index;not null"`
	Index        int      `json:"index" gorm:"column:position;not null"`
	ExternalID   *string  `json:"id" gorm:"column:external_id"`
	ExternalCode *string  `json:"externalCode"`
	Name         *string  `json:"name"`
	GroupName    *string  `json:"groupName"`
	Type         *string  `json:"type"`
	Quantity     *float64 `json:"quantity"`
	UnitPrice    *float64 `json:"unitPrice"`
	Addition     *float64 `json:"addition"`
	Price        *float64 `json:"price"`
}

func (Customization) TableName() string { return "order_item_customizations" }

// Payment - способ оплаты заказа
type Payment struct {
	ID        uint     `json:"-" gorm:"primaryKey"`
	OrderID   uint     `json:"-" gorm:"index;not null"`
	Index     int      `json:"index" gorm:"column:position;not null"`
	Value     *float64 `json:"value"`
	Currency  *string  `json:"currency"`
	Method    *string  `json:"method"`
	Prepaid   *bool    `json:"prepaid"`
	Type      *string  `json:"type"`
	CardBrand *string  `json:"cardBrand"`
}

func (Payment) TableName() string { return "order_payments" }

// AdditionalFee - дополнительный сбор
type AdditionalFee struct {
	ID              uint           `json:"-" gorm:"primaryKey"`
	OrderID         uint           `json:"-" gorm:"index;not null"`
	Index           int            `json:"index" gorm:"column:position;not null"`
	Type            *string        `json:"type"`
	Description     *string        `json:"description"`
	FullDescription *string        `json:"fullDescription"`
	Value           *float64       `json:"value"`
	Liabilities     datatypes.JSON `json:"liabilities"`
}

func (AdditionalFee) TableName() string { return "order_additional_fees" }

// WebhookEvent - журнал всех поступивших вебхуков
type WebhookEvent struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	Vendor         string    `json:"vendor" gorm:"size:32;index;not null"`
	EventCode      string    `json:"eventCode" gorm:"type:text"`
	OrderID        string    `json:"orderId" gorm:"column:order_id;size:255;index"`
	MerchantID     string    `json:"merchantId" gorm:"column:merchant_id;size:255"`
	PreviousStatus string    `json:"previousStatus" gorm:"size:64"`
	Outcome        string    `json:"outcome" gorm:"size:32;not null"`
	Error          string    `json:"error,omitempty" gorm:"type:text"`
	RawBody        string    `json:"rawBody" gorm:"type:text"`
	ReceivedAt     time.Time `json:"receivedAt" gorm:"index;not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }
