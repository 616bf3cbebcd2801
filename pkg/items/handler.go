package items

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/google/uuid"
)

const (
	ServiceName    = "serverless-todo"
	ServiceVersion = "0.1.0"
)

// ItemStore persists items.
type ItemStore interface {
	Put(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (Item, error)
	Update(ctx context.Context, id, data string) error
	Delete(ctx context.Context, id string) error
}

// Handler serves the item routes behind API Gateway.
type Handler struct {
	store ItemStore
	newID func() string
	log   logger.Logger
}

func NewHandler(store ItemStore) *Handler {
	return &Handler{
		store: store,
		newID: uuid.NewString,
		log:   logger.New("items"),
	}
}

// Route dispatches req by method. GET on the root path is the health check.
func (h *Handler) Route(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch req.HTTPMethod {
	case http.MethodGet:
		if req.Path == "" || req.Path == "/" {
			return h.Health(ctx, req)
		}
		return h.Get(ctx, req)
	case http.MethodPost:
		return h.Create(ctx, req)
	case http.MethodPut:
		return h.Update(ctx, req)
	case http.MethodDelete:
		return h.Delete(ctx, req)
	}
	return text(http.StatusMethodNotAllowed, "method not allowed"), nil
}

func (h *Handler) Health(_ context.Context, _ events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"ok":      true,
		"service": ServiceName,
		"version": ServiceVersion,
	})
}

// Create stores the request body. The id is taken from the body when it
// carries a non-empty string "id", otherwise a new UUID is assigned.
func (h *Handler) Create(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body, data, err := decodeBody(req.Body)
	if err != nil {
		return text(http.StatusBadRequest, "invalid JSON body"), nil
	}

	id, _ := body["id"].(string)
	if id == "" {
		id = h.newID()
	}

	if err := h.store.Put(ctx, Item{ID: id, Data: data}); err != nil {
		h.log.Error("failed to put item", "id", id, "error", err)
		return text(http.StatusInternalServerError, "internal error"), nil
	}

	return jsonResponse(http.StatusCreated, map[string]interface{}{"id": id, "ok": true})
}

// Get returns the stored object with its id merged in.
func (h *Handler) Get(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := req.PathParameters["id"]
	if id == "" {
		return text(http.StatusBadRequest, "missing id"), nil
	}

	item, err := h.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return text(http.StatusNotFound, "not found"), nil
	}
	if err != nil {
		h.log.Error("failed to get item", "id", id, "error", err)
		return text(http.StatusInternalServerError, "internal error"), nil
	}

	obj := map[string]interface{}{}
	if err := json.Unmarshal([]byte(item.Data), &obj); err != nil {
		h.log.Error("stored item is not a JSON object", "id", id, "error", err)
		return text(http.StatusInternalServerError, "internal error"), nil
	}
	obj["id"] = item.ID

	return jsonResponse(http.StatusOK, obj)
}

// Update replaces the stored object of an item with the request body.
func (h *Handler) Update(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := req.PathParameters["id"]
	if id == "" {
		return text(http.StatusBadRequest, "missing id"), nil
	}

	_, data, err := decodeBody(req.Body)
	if err != nil {
		return text(http.StatusBadRequest, "invalid JSON body"), nil
	}

	if err := h.store.Update(ctx, id, data); err != nil {
		h.log.Error("failed to update item", "id", id, "error", err)
		return text(http.StatusInternalServerError, "internal error"), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{"id": id, "ok": true})
}

func (h *Handler) Delete(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := req.PathParameters["id"]
	if id == "" {
		return text(http.StatusBadRequest, "missing id"), nil
	}

	if err := h.store.Delete(ctx, id); err != nil {
		h.log.Error("failed to delete item", "id", id, "error", err)
		return text(http.StatusInternalServerError, "internal error"), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{"id": id, "deleted": true})
}

// decodeBody parses a JSON object body. An empty body is an empty object.
// The re-encoded object is what gets stored.
func decodeBody(raw string) (map[string]interface{}, string, error) {
	if raw == "" {
		raw = "{}"
	}

	var body map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, "", err
	}
	if body == nil {
		return nil, "", errors.New("body is not a JSON object")
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	return body, string(data), nil
}

func jsonResponse(status int, v interface{}) (events.APIGatewayProxyResponse, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}, nil
}

func text(status int, body string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: status, Body: body}
}
