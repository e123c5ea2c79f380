package domain

// BookingEvent is an upstream booking normalized by the booking client.
type BookingEvent struct {
	ExternalID  string `json:"externalId" validate:"required"`
	Phone       string `json:"phone" validate:"required,phone"`
	FullName    string `json:"fullName"`
	EventTime   string `json:"eventTime"`
	ServiceID   int64  `json:"serviceId"`
	ServiceName string `json:"serviceName"`
	StaffID     int64  `json:"staffId"`
	StaffName   string `json:"staffName"`
	Comment     string `json:"comment"`
}

type ReconcileSummary struct {
	Fetched   int `json:"fetched"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Invalid   int `json:"invalid"`
	Failed    int `json:"failed"`
	Notified  int `json:"notified"`
	Scheduled int `json:"scheduled"`
}
