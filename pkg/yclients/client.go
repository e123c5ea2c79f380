// Package yclients reads booking records from the booking backend.
package yclients

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

const dateLayout = "2006-01-02"

type Client struct {
	httpClient *resty.Client
	companyID  int64
	configured bool
}

func NewClient(cfg environments.YClientsConfig) *Client {
	auth := "Bearer " + cfg.PartnerToken
	if cfg.UserToken != "" {
		auth += ", User " + cfg.UserToken
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Accept", "application/vnd.yclients.v2+json").
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", auth)

	return &Client{
		httpClient: client,
		companyID:  cfg.CompanyID,
		configured: cfg.Configured(),
	}
}

// IsConfigured reports whether partner credentials and a company are set.
func (c *Client) IsConfigured() bool {
	return c.configured
}

type servicePayload struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type staffPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type clientPayload struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type recordPayload struct {
	ID       int64            `json:"id"`
	Date     string           `json:"date"`
	Datetime string           `json:"datetime"`
	Comment  string           `json:"comment"`
	StaffID  int64            `json:"staff_id"`
	Staff    *staffPayload    `json:"staff"`
	Client   *clientPayload   `json:"client"`
	Services []servicePayload `json:"services"`
	Deleted  bool             `json:"deleted"`
}

type recordsEnvelope struct {
	Success bool            `json:"success"`
	Data    []recordPayload `json:"data"`
	Meta    struct {
		Message string `json:"message"`
	} `json:"meta"`
}

// FetchRecords returns the company's booking records between from and to
// (inclusive days), at most limit of them.
func (c *Client) FetchRecords(ctx context.Context, from, to time.Time, limit int) ([]domain.BookingEvent, error) {
	if !c.configured {
		return nil, errors.New("booking backend is not configured")
	}

	var envelope recordsEnvelope

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"start_date": from.Format(dateLayout),
			"end_date":   to.Format(dateLayout),
			"count":      strconv.Itoa(limit),
		}).
		SetResult(&envelope).
		Get("/records/" + strconv.FormatInt(c.companyID, 10))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), resp.String())
	}

	if !envelope.Success {
		return nil, fmt.Errorf("booking backend rejected request: %s", envelope.Meta.Message)
	}

	logger.Debugf("Fetched %d booking records for company %d", len(envelope.Data), c.companyID)

	events := make([]domain.BookingEvent, 0, len(envelope.Data))
	for _, r := range envelope.Data {
		if r.Deleted {
			continue
		}
		events = append(events, toEvent(r))
	}

	return events, nil
}

func toEvent(r recordPayload) domain.BookingEvent {
	event := domain.BookingEvent{
		ExternalID: strconv.FormatInt(r.ID, 10),
		EventTime:  r.Datetime,
		Comment:    r.Comment,
		StaffID:    r.StaffID,
	}

	if event.EventTime == "" {
		event.EventTime = r.Date
	}

	if r.Client != nil {
		event.Phone = r.Client.Phone
		event.FullName = r.Client.Name
	}

	if len(r.Services) > 0 {
		event.ServiceID = r.Services[0].ID
		event.ServiceName = r.Services[0].Title
	}

	if r.Staff != nil {
		event.StaffName = r.Staff.Name
		if event.StaffID == 0 {
			event.StaffID = r.Staff.ID
		}
	}

	return event
}
