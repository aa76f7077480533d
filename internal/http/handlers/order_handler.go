// README: Order handlers for create/get/take/complete/cancel.
package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"orderflow/internal/modules/order"
	"orderflow/internal/types"
)

type OrderHandler struct {
	order *order.Service
	loc   *time.Location
	log   logrus.FieldLogger
}

// NewOrderHandler reads orderAt values without a UTC offset as civil time in
// loc, the zone fares are priced in. A nil loc means UTC.
func NewOrderHandler(svc *order.Service, loc *time.Location, log logrus.FieldLogger) *OrderHandler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &OrderHandler{order: svc, loc: loc, log: log}
}

type stopReq struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

type createOrderReq struct {
	Stops   []stopReq `json:"stops"`
	OrderAt string    `json:"orderAt"`
}

type fareResp struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type createOrderResp struct {
	ID                       int64    `json:"id"`
	DrivingDistancesInMeters []int64  `json:"drivingDistancesInMeters"`
	Fare                     fareResp `json:"fare"`
}

type orderResp struct {
	ID                       int64         `json:"id"`
	Stops                    []types.Point `json:"stops"`
	DrivingDistancesInMeters []int64       `json:"drivingDistancesInMeters"`
	Fare                     fareResp      `json:"fare"`
	Status                   order.Status  `json:"status"`
	OrderDateTime            time.Time     `json:"orderDateTime"`
	CreatedTime              time.Time     `json:"createdTime"`
	OngoingTime              *time.Time    `json:"ongoingTime,omitempty"`
	CompletedAt              *time.Time    `json:"completedAt,omitempty"`
	CancelledAt              *time.Time    `json:"cancelledAt,omitempty"`
}

type takeResp struct {
	ID          int64        `json:"id"`
	Status      order.Status `json:"status"`
	OngoingTime *time.Time   `json:"ongoingTime"`
}

type completeResp struct {
	ID          int64        `json:"id"`
	Status      order.Status `json:"status"`
	CompletedAt *time.Time   `json:"completedAt"`
}

type cancelResp struct {
	ID          int64        `json:"id"`
	Status      order.Status `json:"status"`
	CancelledAt *time.Time   `json:"cancelledAt"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid body")
		return
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		writeError(c, http.StatusBadRequest, "")
		return
	}
	var req createOrderReq
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	stops := make([]types.Point, 0, len(req.Stops))
	for i, s := range req.Stops {
		if s.Lat == nil || s.Lng == nil {
			writeError(c, http.StatusBadRequest, "stops["+strconv.Itoa(i)+"] requires lat and lng")
			return
		}
		stops = append(stops, types.Point{Lat: *s.Lat, Lng: *s.Lng})
	}

	cmd := order.CreateCommand{Stops: stops}
	if req.OrderAt != "" {
		at, err := parseOrderAt(req.OrderAt, h.loc)
		if err != nil {
			h.log.WithField("order_at", req.OrderAt).Warn("ignoring unparsable orderAt")
		} else {
			cmd.OrderAt = &at
		}
	}

	o, err := h.order.Create(c.Request.Context(), cmd)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, createOrderResp{
		ID:                       o.ID,
		DrivingDistancesInMeters: o.DrivingDistancesInMeters,
		Fare:                     toFareResp(o.Fare),
	})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, orderResp{
		ID:                       o.ID,
		Stops:                    o.Stops,
		DrivingDistancesInMeters: o.DrivingDistancesInMeters,
		Fare:                     toFareResp(o.Fare),
		Status:                   o.Status,
		OrderDateTime:            o.OrderDateTime,
		CreatedTime:              o.CreatedTime,
		OngoingTime:              o.OngoingTime,
		CompletedAt:              o.CompletedAt,
		CancelledAt:              o.CancelledAt,
	})
}

func (h *OrderHandler) Take(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.Take(c.Request.Context(), order.TakeCommand{OrderID: id})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, takeResp{ID: o.ID, Status: o.Status, OngoingTime: o.OngoingTime})
}

func (h *OrderHandler) Complete(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.Complete(c.Request.Context(), order.CompleteCommand{OrderID: id})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, completeResp{ID: o.ID, Status: o.Status, CompletedAt: o.CompletedAt})
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{OrderID: id})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, cancelResp{ID: o.ID, Status: o.Status, CancelledAt: o.CancelledAt})
}

// orderAtOffsetLayouts are the ISO 8601 forms that carry their own offset.
var orderAtOffsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
}

// orderAtLocalLayouts are the ISO 8601 forms without an offset.
var orderAtLocalLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

func parseOrderAt(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range orderAtOffsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	var err error
	for _, layout := range orderAtLocalLayouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// orderID parses the :id path parameter. Ids that cannot name an order are
// reported the same way as ids that name no order.
func orderID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeOrderError(c, order.ErrNotFound)
		return 0, false
	}
	return id, true
}

func toFareResp(m types.Money) fareResp {
	return fareResp{Amount: m.Amount.String(), Currency: m.Currency}
}
