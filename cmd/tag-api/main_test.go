package main

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/httpapi"
	"github.com/mywed360/mail-service/internal/mapping"
)

type mockCallerSource struct {
	accountID string
}

func (m *mockCallerSource) Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error) {
	if m.accountID == "" {
		return access.Caller{}, httpapi.ErrUnauthenticated
	}
	return access.Caller{AccountID: m.accountID}, nil
}

type mockTagManager struct {
	listFunc                func(ctx context.Context, accountID string) ([]mapping.Tag, error)
	replaceAllFunc          func(ctx context.Context, accountID string, raw []mapping.RawEntry) ([]mapping.Tag, error)
	createFunc              func(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Tag, error)
	updateFunc              func(ctx context.Context, accountID, id string, patch mapping.TagPatch) (mapping.Tag, error)
	deleteFunc              func(ctx context.Context, accountID, id string) error
	setMappingFunc          func(ctx context.Context, accountID string, raw map[string]any) (mapping.TagMapping, error)
	setMappingForOneFunc    func(ctx context.Context, accountID, mailID string, tagIDs []string) (mapping.TagMapping, error)
	patchMappingForOneFunc  func(ctx context.Context, accountID, mailID string, add, remove []string) (mapping.TagMapping, error)
	deleteMappingForOneFunc func(ctx context.Context, accountID, mailID string) (mapping.TagMapping, error)
}

func (m *mockTagManager) List(ctx context.Context, accountID string) ([]mapping.Tag, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, accountID)
	}
	return []mapping.Tag{}, nil
}

func (m *mockTagManager) ReplaceAll(ctx context.Context, accountID string, raw []mapping.RawEntry) ([]mapping.Tag, error) {
	if m.replaceAllFunc != nil {
		return m.replaceAllFunc(ctx, accountID, raw)
	}
	return []mapping.Tag{}, nil
}

func (m *mockTagManager) Create(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Tag, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, accountID, raw)
	}
	return mapping.Tag{}, nil
}

func (m *mockTagManager) Update(ctx context.Context, accountID, id string, patch mapping.TagPatch) (mapping.Tag, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, accountID, id, patch)
	}
	return mapping.Tag{}, nil
}

func (m *mockTagManager) Delete(ctx context.Context, accountID, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, accountID, id)
	}
	return nil
}

func (m *mockTagManager) GetMapping(ctx context.Context, accountID string) (mapping.TagMapping, error) {
	return mapping.TagMapping{}, nil
}

func (m *mockTagManager) SetMapping(ctx context.Context, accountID string, raw map[string]any) (mapping.TagMapping, error) {
	if m.setMappingFunc != nil {
		return m.setMappingFunc(ctx, accountID, raw)
	}
	return mapping.TagMapping{}, nil
}

func (m *mockTagManager) SetMappingForOne(ctx context.Context, accountID, mailID string, tagIDs []string) (mapping.TagMapping, error) {
	if m.setMappingForOneFunc != nil {
		return m.setMappingForOneFunc(ctx, accountID, mailID, tagIDs)
	}
	return mapping.TagMapping{}, nil
}

func (m *mockTagManager) PatchMappingForOne(ctx context.Context, accountID, mailID string, add, remove []string) (mapping.TagMapping, error) {
	if m.patchMappingForOneFunc != nil {
		return m.patchMappingForOneFunc(ctx, accountID, mailID, add, remove)
	}
	return mapping.TagMapping{}, nil
}

func (m *mockTagManager) DeleteMappingForOne(ctx context.Context, accountID, mailID string) (mapping.TagMapping, error) {
	if m.deleteMappingForOneFunc != nil {
		return m.deleteMappingForOneFunc(ctx, accountID, mailID)
	}
	return mapping.TagMapping{}, nil
}

func decode(t *testing.T, resp events.APIGatewayV2HTTPResponse) map[string]json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("Unmarshal(%q): %v", resp.Body, err)
	}
	return body
}

func TestHandler_ListTags(t *testing.T) {
	tags := &mockTagManager{
		listFunc: func(ctx context.Context, accountID string) ([]mapping.Tag, error) {
			if accountID != "u1" {
				t.Errorf("accountID = %q", accountID)
			}
			return []mapping.Tag{{ID: "t1", Name: "VIP", Color: "#ff0000"}}, nil
		},
	}
	h := newHandler(&mockCallerSource{accountID: "u1"}, tags)

	resp, err := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeList})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d", resp.StatusCode)
	}
	var list []mapping.Tag
	if err := json.Unmarshal(decode(t, resp)["tags"], &list); err != nil || len(list) != 1 || list[0].ID != "t1" {
		t.Errorf("tags = %+v, %v", list, err)
	}
}

func TestHandler_CreateTag(t *testing.T) {
	tags := &mockTagManager{
		createFunc: func(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Tag, error) {
			if raw["name"] != "Proveedores" {
				t.Errorf("raw = %v", raw)
			}
			return mapping.Tag{ID: "t1", Name: "Proveedores", Color: mapping.DefaultTagColor}, nil
		},
	}
	h := newHandler(&mockCallerSource{accountID: "u1"}, tags)

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeCreate, Body: `{"name":"Proveedores"}`})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("StatusCode = %d, body = %s", resp.StatusCode, resp.Body)
	}
	if _, ok := decode(t, resp)["tag"]; !ok {
		t.Errorf("body = %s", resp.Body)
	}
}

func TestHandler_CreateTagConflict(t *testing.T) {
	tags := &mockTagManager{
		createFunc: func(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Tag, error) {
			return mapping.Tag{}, mapping.ErrTagExists
		},
	}
	h := newHandler(&mockCallerSource{accountID: "u1"}, tags)

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeCreate, Body: `{"id":"t1","name":"x"}`})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want 409", resp.StatusCode)
	}
	if string(decode(t, resp)["error"]) != `"tag-already-exists"` {
		t.Errorf("body = %s", resp.Body)
	}
}

func TestHandler_UpdateTag(t *testing.T) {
	var got mapping.TagPatch
	tags := &mockTagManager{
		updateFunc: func(ctx context.Context, accountID, id string, patch mapping.TagPatch) (mapping.Tag, error) {
			if id != "t1" {
				t.Errorf("id = %q", id)
			}
			got = patch
			return mapping.Tag{ID: id}, nil
		},
	}
	h := newHandler(&mockCallerSource{accountID: "u1"}, tags)

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
		RouteKey:       routeUpdate,
		PathParameters: map[string]string{"tagId": "t1"},
		Body:           `{"color":"#00FF00"}`,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d", resp.StatusCode)
	}
	if got.Name != nil || got.Color == nil || *got.Color != "#00FF00" {
		t.Errorf("patch = %+v", got)
	}
}

func TestHandler_DeleteTagNotFound(t *testing.T) {
	tags := &mockTagManager{
		deleteFunc: func(ctx context.Context, accountID, id string) error {
			return mapping.ErrTagNotFound
		},
	}
	h := newHandler(&mockCallerSource{accountID: "u1"}, tags)

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeDelete, PathParameters: map[string]string{"tagId": "nope"}})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
}

func TestHandler_BodyValidation(t *testing.T) {
	h := newHandler(&mockCallerSource{accountID: "u1"}, &mockTagManager{})
	tests := []struct {
		name  string
		route string
		body  string
		want  string
	}{
		{"replace without tags", routeReplace, `{}`, `"tags-array-required"`},
		{"set mapping without object", routeSetMapping, `{"mapping":null}`, `"mapping-object-required"`},
		{"set for one without tags", routeSetForOne, `{}`, `"tags-array-required"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
				RouteKey:       tt.route,
				PathParameters: map[string]string{"emailId": "m1"},
				Body:           tt.body,
			})
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("StatusCode = %d, want 400", resp.StatusCode)
			}
			if got := string(decode(t, resp)["error"]); got != tt.want {
				t.Errorf("error = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHandler_PatchForOne(t *testing.T) {
	tags := &mockTagManager{
		patchMappingForOneFunc: func(ctx context.Context, accountID, mailID string, add, remove []string) (mapping.TagMapping, error) {
			if mailID != "m1" || !slices.Equal(add, []string{"t2"}) || !slices.Equal(remove, []string{"t1"}) {
				t.Errorf("mailID/add/remove = %s/%v/%v", mailID, add, remove)
			}
			return mapping.TagMapping{"m1": {"t2"}}, nil
		},
	}
	h := newHandler(&mockCallerSource{accountID: "u1"}, tags)

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
		RouteKey:       routePatchForOne,
		PathParameters: map[string]string{"emailId": "m1"},
		Body:           `{"add":["t2"],"remove":["t1"]}`,
	})
	var m mapping.TagMapping
	if err := json.Unmarshal(decode(t, resp)["mapping"], &m); err != nil || !slices.Equal(m["m1"], []string{"t2"}) {
		t.Errorf("mapping = %v, %v", m, err)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	h := newHandler(&mockCallerSource{}, &mockTagManager{})
	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeList})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", resp.StatusCode)
	}
}
