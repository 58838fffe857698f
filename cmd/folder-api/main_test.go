package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/mapping"
)

type mockCallerSource struct{}

func (m *mockCallerSource) Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error) {
	return access.Caller{AccountID: "u1"}, nil
}

type mockFolderManager struct {
	listFunc       func(ctx context.Context, accountID string) ([]mapping.Folder, error)
	replaceAllFunc func(ctx context.Context, accountID string, raw []mapping.RawEntry) ([]mapping.Folder, error)
	createFunc     func(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Folder, error)
	updateFunc     func(ctx context.Context, accountID, id string, patch mapping.FolderPatch) (mapping.Folder, error)
	deleteFunc     func(ctx context.Context, accountID, id string) error
	deleteOneFunc  func(ctx context.Context, accountID, mailID string) (mapping.FolderMapping, error)
}

func (m *mockFolderManager) List(ctx context.Context, accountID string) ([]mapping.Folder, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, accountID)
	}
	return []mapping.Folder{}, nil
}

func (m *mockFolderManager) ReplaceAll(ctx context.Context, accountID string, raw []mapping.RawEntry) ([]mapping.Folder, error) {
	if m.replaceAllFunc != nil {
		return m.replaceAllFunc(ctx, accountID, raw)
	}
	return []mapping.Folder{}, nil
}

func (m *mockFolderManager) Create(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Folder, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, accountID, raw)
	}
	return mapping.Folder{}, nil
}

func (m *mockFolderManager) Update(ctx context.Context, accountID, id string, patch mapping.FolderPatch) (mapping.Folder, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, accountID, id, patch)
	}
	return mapping.Folder{}, nil
}

func (m *mockFolderManager) Delete(ctx context.Context, accountID, id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, accountID, id)
	}
	return nil
}

func (m *mockFolderManager) GetMapping(ctx context.Context, accountID string) (mapping.FolderMapping, error) {
	return mapping.FolderMapping{"m1": "f1"}, nil
}

func (m *mockFolderManager) SetMapping(ctx context.Context, accountID string, raw map[string]any) (mapping.FolderMapping, error) {
	return mapping.FolderMapping{}, nil
}

func (m *mockFolderManager) DeleteMappingForOne(ctx context.Context, accountID, mailID string) (mapping.FolderMapping, error) {
	if m.deleteOneFunc != nil {
		return m.deleteOneFunc(ctx, accountID, mailID)
	}
	return mapping.FolderMapping{}, nil
}

type mockFolderAssigner struct {
	assignFolderFunc func(ctx context.Context, caller access.Caller, mailID, folderID string) (mapping.FolderMapping, error)
}

func (m *mockFolderAssigner) AssignFolder(ctx context.Context, caller access.Caller, mailID, folderID string) (mapping.FolderMapping, error) {
	if m.assignFolderFunc != nil {
		return m.assignFolderFunc(ctx, caller, mailID, folderID)
	}
	return mapping.FolderMapping{mailID: folderID}, nil
}

func TestHandler_ListFolders(t *testing.T) {
	folders := &mockFolderManager{
		listFunc: func(ctx context.Context, accountID string) ([]mapping.Folder, error) {
			return []mapping.Folder{{ID: "f1", Name: "Proveedores", Unread: 2}}, nil
		},
	}
	h := newHandler(&mockCallerSource{}, folders, &mockFolderAssigner{})

	resp, err := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeList})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	var body struct {
		Folders []mapping.Folder `json:"folders"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(body.Folders) != 1 || body.Folders[0].Unread != 2 {
		t.Errorf("folders = %+v", body.Folders)
	}
}

func TestHandler_CreateFolder(t *testing.T) {
	folders := &mockFolderManager{
		createFunc: func(ctx context.Context, accountID string, raw mapping.RawEntry) (mapping.Folder, error) {
			if accountID != "u1" || raw["name"] != "Proveedores" {
				t.Errorf("accountID/raw = %s/%v", accountID, raw)
			}
			return mapping.Folder{ID: "f1", Name: "Proveedores"}, nil
		},
	}
	h := newHandler(&mockCallerSource{}, folders, &mockFolderAssigner{})

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeCreate, Body: `{"name":"Proveedores"}`})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, body = %s", resp.StatusCode, resp.Body)
	}
}

func TestHandler_UpdateNothing(t *testing.T) {
	folders := &mockFolderManager{
		updateFunc: func(ctx context.Context, accountID, id string, patch mapping.FolderPatch) (mapping.Folder, error) {
			if patch.Name != nil {
				t.Errorf("Name = %q, want nil", *patch.Name)
			}
			return mapping.Folder{}, mapping.ErrNothingToUpdate
		},
	}
	h := newHandler(&mockCallerSource{}, folders, &mockFolderAssigner{})

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
		RouteKey:       routeUpdate,
		PathParameters: map[string]string{"folderId": "f1"},
		Body:           `{}`,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_DeleteFolder(t *testing.T) {
	var deleted string
	folders := &mockFolderManager{
		deleteFunc: func(ctx context.Context, accountID, id string) error {
			deleted = id
			return nil
		},
	}
	h := newHandler(&mockCallerSource{}, folders, &mockFolderAssigner{})

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
		RouteKey:       routeDelete,
		PathParameters: map[string]string{"folderId": "f1"},
	})
	if resp.StatusCode != http.StatusOK || deleted != "f1" || resp.Body != `{"ok":true}` {
		t.Errorf("resp = %d %s, deleted = %q", resp.StatusCode, resp.Body, deleted)
	}
}

func TestHandler_SetForOneUsesAssigner(t *testing.T) {
	assigner := &mockFolderAssigner{
		assignFolderFunc: func(ctx context.Context, caller access.Caller, mailID, folderID string) (mapping.FolderMapping, error) {
			if caller.AccountID != "u1" || mailID != "m1" || folderID != "f2" {
				t.Errorf("caller/mail/folder = %s/%s/%s", caller.AccountID, mailID, folderID)
			}
			return mapping.FolderMapping{"m1": "f2"}, nil
		},
	}
	h := newHandler(&mockCallerSource{}, &mockFolderManager{}, assigner)

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
		RouteKey:       routeSetForOne,
		PathParameters: map[string]string{"emailId": "m1"},
		Body:           `{"folderId":"f2"}`,
	})
	var body struct {
		Mapping mapping.FolderMapping `json:"mapping"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if body.Mapping["m1"] != "f2" {
		t.Errorf("mapping = %v", body.Mapping)
	}
}

func TestHandler_SetMappingRequiresObject(t *testing.T) {
	h := newHandler(&mockCallerSource{}, &mockFolderManager{}, &mockFolderAssigner{})
	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeSetMapping, Body: `{}`})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", resp.StatusCode)
	}
}

func TestHandler_UnknownRoute(t *testing.T) {
	h := newHandler(&mockCallerSource{}, &mockFolderManager{}, &mockFolderAssigner{})
	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: "PATCH /api/email-folders"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
}
