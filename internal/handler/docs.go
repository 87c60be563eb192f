package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"Guardian/pkg/response"
)

const (
	TYPE_STRING  = "string"
	TYPE_INT     = "int"
	TYPE_FLOAT   = "float"
	TYPE_BOOLEAN = "boolean"
	TYPE_OBJECT  = "object"
	TYPE_ARRAY   = "array"
	TYPE_DATE    = "date"
)

type DocField struct {
	Name    string     `json:"name,omitempty"`
	Type    string     `json:"type"`
	Desc    string     `json:"desc,omitempty"`
	CanNull bool       `json:"canNull,omitempty"`
	Default string     `json:"default,omitempty"`
	Fields  []DocField `json:"fields,omitempty"`
}

type UriDoc struct {
	Group    string    `json:"group"`
	Path     string    `json:"path"`
	Method   string    `json:"method"`
	Summary  string    `json:"summary,omitempty"`
	Desc     string    `json:"desc"`
	Request  *DocField `json:"request,omitempty"`
	Response *DocField `json:"response,omitempty"`
}

var (
	coordinateDoc = []DocField{
		{Name: "lat", Type: TYPE_FLOAT},
		{Name: "lng", Type: TYPE_FLOAT},
		{Name: "accuracy", Type: TYPE_FLOAT, Desc: "metres"},
		{Name: "speed", Type: TYPE_FLOAT, CanNull: true},
		{Name: "heading", Type: TYPE_FLOAT, CanNull: true},
		{Name: "capturedAt", Type: TYPE_DATE, CanNull: true, Desc: "defaults to the receive time"},
	}
	alertDoc = DocField{
		Type: TYPE_OBJECT,
		Fields: []DocField{
			{Name: "id", Type: TYPE_STRING},
			{Name: "senderAddress", Type: TYPE_STRING},
			{Name: "senderName", Type: TYPE_STRING},
			{Name: "createdAt", Type: TYPE_DATE},
			{Name: "lastLocation", Type: TYPE_OBJECT, CanNull: true, Fields: coordinateDoc},
			{Name: "reason", Type: TYPE_STRING},
			{Name: "isLive", Type: TYPE_BOOLEAN},
			{Name: "recipients", Type: TYPE_ARRAY, Fields: []DocField{{Type: TYPE_STRING}}},
			{Name: "source", Type: TYPE_STRING, Desc: "manual, voice or timer"},
			{Name: "channel", Type: TYPE_STRING},
			{Name: "resolvedAt", Type: TYPE_DATE, CanNull: true},
		},
	}
	stateDoc = DocField{
		Type: TYPE_OBJECT,
		Fields: []DocField{
			{Name: "phase", Type: TYPE_STRING, Desc: "idle, active or resolved"},
			{Name: "alert", Type: TYPE_OBJECT, CanNull: true, Fields: alertDoc.Fields},
			{Name: "detection", Type: TYPE_OBJECT, Fields: []DocField{
				{Name: "armed", Type: TYPE_BOOLEAN},
				{Name: "phrase", Type: TYPE_STRING, CanNull: true},
				{Name: "error", Type: TYPE_STRING, CanNull: true},
			}},
			{Name: "checkInDue", Type: TYPE_DATE, CanNull: true},
			{Name: "warning", Type: TYPE_STRING, CanNull: true},
		},
	}
	recordDoc = DocField{
		Type: TYPE_OBJECT,
		Fields: []DocField{
			{Name: "id", Type: TYPE_STRING},
			{Name: "senderAddress", Type: TYPE_STRING},
			{Name: "senderName", Type: TYPE_STRING},
			{Name: "kind", Type: TYPE_STRING, Desc: "text or location_pin"},
			{Name: "text", Type: TYPE_STRING, CanNull: true},
			{Name: "pin", Type: TYPE_OBJECT, CanNull: true, Fields: coordinateDoc[:3]},
			{Name: "postedAt", Type: TYPE_DATE},
		},
	}
)

func (h *Handlers) GetDocs() []UriDoc {
	return []UriDoc{
		{
			Group:    "Detection",
			Path:     APIPrefix + "/detection/arm",
			Method:   http.MethodPost,
			Desc:     "Start listening for the trigger phrase. An empty phrase uses the saved one",
			Request:  &DocField{Type: TYPE_OBJECT, Fields: []DocField{{Name: "phrase", Type: TYPE_STRING, CanNull: true}}},
			Response: &stateDoc,
		},
		{
			Group:    "Detection",
			Path:     APIPrefix + "/detection/disarm",
			Method:   http.MethodPost,
			Desc:     "Stop listening",
			Response: &stateDoc,
		},
		{
			Group:  "Alert",
			Path:   APIPrefix + "/alerts",
			Method: http.MethodPost,
			Desc:   "Raise an alert. Send `Idempotency-Key` to make retries safe; while an alert is live it is returned instead",
			Request: &DocField{Type: TYPE_OBJECT, Fields: []DocField{
				{Name: "reason", Type: TYPE_STRING, CanNull: true, Default: "Manual SOS"},
			}},
			Response: &DocField{Type: TYPE_OBJECT, Fields: []DocField{
				{Name: "alert", Type: TYPE_OBJECT, Fields: alertDoc.Fields},
				{Name: "warning", Type: TYPE_STRING, CanNull: true, Desc: "set when no or only a stale location was attached"},
			}},
		},
		{
			Group:    "Alert",
			Path:     APIPrefix + "/alerts/:id/safe",
			Method:   http.MethodPost,
			Desc:     "Mark the user safe and resolve the alert",
			Response: &alertDoc,
		},
		{
			Group:    "Alert",
			Path:     APIPrefix + "/alerts/active",
			Method:   http.MethodGet,
			Desc:     "Current lifecycle state",
			Response: &stateDoc,
		},
		{
			Group:    "Alert",
			Path:     APIPrefix + "/alerts/:id",
			Method:   http.MethodGet,
			Desc:     "Alert by id, live or resolved",
			Response: &alertDoc,
		},
		{
			Group:  "Alert",
			Path:   APIPrefix + "/alerts/:id/actions",
			Method: http.MethodGet,
			Desc:   "Raise and resolve history of an alert",
		},
		{
			Group:   "Alert",
			Path:    APIPrefix + "/alerts/events",
			Method:  http.MethodGet,
			Summary: "text/event-stream",
			Desc:    "Server-sent `state` events on every lifecycle change",
		},
		{
			Group:    "Check-in",
			Path:     APIPrefix + "/checkin",
			Method:   http.MethodPost,
			Desc:     "Raise a timer alert unless confirmed within `seconds`",
			Request:  &DocField{Type: TYPE_OBJECT, Fields: []DocField{{Name: "seconds", Type: TYPE_INT}}},
			Response: &DocField{Type: TYPE_OBJECT, Fields: []DocField{{Name: "due", Type: TYPE_DATE}}},
		},
		{
			Group:  "Check-in",
			Path:   APIPrefix + "/checkin",
			Method: http.MethodDelete,
			Desc:   "Confirm the check-in",
		},
		{
			Group:    "Channel",
			Path:     APIPrefix + "/channels/pair",
			Method:   http.MethodGet,
			Desc:     "Channel key shared by `?a=` and `?b=`",
			Response: &DocField{Type: TYPE_OBJECT, Fields: []DocField{{Name: "key", Type: TYPE_STRING}}},
		},
		{
			Group:    "Channel",
			Path:     APIPrefix + "/channels/:key/records",
			Method:   http.MethodGet,
			Desc:     "Ordered records of a channel",
			Response: &DocField{Type: TYPE_ARRAY, Fields: recordDoc.Fields},
		},
		{
			Group:    "Channel",
			Path:     APIPrefix + "/channels/:key/messages",
			Method:   http.MethodPost,
			Desc:     "Post a text message as this device's user",
			Request:  &DocField{Type: TYPE_OBJECT, Fields: []DocField{{Name: "text", Type: TYPE_STRING}}},
			Response: &recordDoc,
		},
		{
			Group:  "Channel",
			Path:   APIPrefix + "/channels/:key/ws",
			Method: http.MethodGet,
			Desc:   "WebSocket delivering the full record list on every change",
		},
		{
			Group:   "Device",
			Path:    APIPrefix + "/device/location",
			Method:  http.MethodPost,
			Desc:    "Location fix from the device",
			Request: &DocField{Type: TYPE_OBJECT, Fields: coordinateDoc},
		},
		{
			Group:  "Device",
			Path:   APIPrefix + "/device/transcript",
			Method: http.MethodPost,
			Desc:   "Speech transcript from the device recognizer",
			Request: &DocField{Type: TYPE_OBJECT, Fields: []DocField{
				{Name: "text", Type: TYPE_STRING},
				{Name: "final", Type: TYPE_BOOLEAN},
			}},
		},
		{
			Group:  "Device",
			Path:   APIPrefix + "/device/permission",
			Method: http.MethodPost,
			Desc:   "Location and microphone permission changes",
			Request: &DocField{Type: TYPE_OBJECT, Fields: []DocField{
				{Name: "location", Type: TYPE_BOOLEAN, CanNull: true},
				{Name: "microphone", Type: TYPE_BOOLEAN, CanNull: true},
			}},
		},
		{
			Group:  "Settings",
			Path:   APIPrefix + "/settings",
			Method: http.MethodGet,
			Desc:   "Profile and guardians as used at trigger time",
		},
		{
			Group:  "Settings",
			Path:   APIPrefix + "/settings/contacts",
			Method: http.MethodPost,
			Desc:   "Add or update a guardian by address",
		},
		{
			Group:   "System Module",
			Path:    "/health",
			Method:  http.MethodGet,
			Summary: "数据库健康状态",
			Desc:    `检查数据库健康状态`,
		},
	}
}

func (h *Handlers) handleDocs(c *gin.Context) {
	response.Data(c, http.StatusOK, h.GetDocs())
}
