package main

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/mywed360/mail-service/internal/access"
	"github.com/mywed360/mail-service/internal/httpapi"
	"github.com/mywed360/mail-service/internal/inbox"
	"github.com/mywed360/mail-service/internal/mail"
	"github.com/mywed360/mail-service/internal/retrieval"
)

type mockCallerSource struct {
	callerFunc func(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error)
}

func (m *mockCallerSource) Caller(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error) {
	if m.callerFunc != nil {
		return m.callerFunc(ctx, request)
	}
	return access.Caller{AccountID: "u1", Role: access.RoleStandard}, nil
}

type mockMailLister struct {
	listFunc       func(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int) []mail.Record
	listFolderFunc func(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int, cursor string) (retrieval.Page, error)
}

func (m *mockMailLister) List(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int) []mail.Record {
	if m.listFunc != nil {
		return m.listFunc(ctx, caller, folder, requestedUser, limit)
	}
	return []mail.Record{}
}

func (m *mockMailLister) ListFolder(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int, cursor string) (retrieval.Page, error) {
	if m.listFolderFunc != nil {
		return m.listFolderFunc(ctx, caller, folder, requestedUser, limit, cursor)
	}
	return retrieval.Page{Items: []mail.Record{}}, nil
}

func TestHandler_ListDefaultsToInbox(t *testing.T) {
	var gotFolder, gotUser string
	var gotLimit int
	lister := &mockMailLister{
		listFunc: func(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int) []mail.Record {
			gotFolder, gotUser, gotLimit = folder, requestedUser, limit
			return []mail.Record{{ID: "m1"}, {ID: "m2"}}
		},
	}
	h := newHandler(&mockCallerSource{}, lister)

	resp, err := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
		RouteKey:              routeList,
		QueryStringParameters: map[string]string{"user": "ana@mywed360.com", "limit": "50"},
	})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d, body = %s", resp.StatusCode, resp.Body)
	}
	if gotFolder != mail.FolderInbox || gotUser != "ana@mywed360.com" || gotLimit != 50 {
		t.Errorf("folder/user/limit = %q/%q/%d", gotFolder, gotUser, gotLimit)
	}

	var items []mail.Record
	if err := json.Unmarshal([]byte(resp.Body), &items); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
}

func TestHandler_Page(t *testing.T) {
	next := "2026-05-01T00:00:00.000Z"
	lister := &mockMailLister{
		listFolderFunc: func(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int, cursor string) (retrieval.Page, error) {
			if folder != "sent" || cursor != "2026-06-01T00:00:00.000Z" {
				t.Errorf("folder/cursor = %q/%q", folder, cursor)
			}
			return retrieval.Page{Items: []mail.Record{{ID: "m1"}}, NextCursor: &next}, nil
		},
	}
	h := newHandler(&mockCallerSource{}, lister)

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
		RouteKey:              routePage,
		QueryStringParameters: map[string]string{"folder": "sent", "cursor": "2026-06-01T00:00:00.000Z"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("StatusCode = %d", resp.StatusCode)
	}
	var page struct {
		Items      []mail.Record `json:"items"`
		NextCursor *string       `json:"nextCursor"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &page); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor == nil || *page.NextCursor != next {
		t.Errorf("page = %+v", page)
	}
}

func TestHandler_PageRejectsAll(t *testing.T) {
	lister := &mockMailLister{
		listFolderFunc: func(ctx context.Context, caller access.Caller, folder, requestedUser string, limit int, cursor string) (retrieval.Page, error) {
			return retrieval.Page{}, inbox.ErrPaginationAll
		},
	}
	h := newHandler(&mockCallerSource{}, lister)

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{
		RouteKey:              routePage,
		QueryStringParameters: map[string]string{"folder": "all"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", resp.StatusCode)
	}
	var body httpapi.ErrorBody
	_ = json.Unmarshal([]byte(resp.Body), &body)
	if body.Error != "pagination_not_supported_for_all" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	auth := &mockCallerSource{
		callerFunc: func(ctx context.Context, request events.APIGatewayV2HTTPRequest) (access.Caller, error) {
			return access.Caller{}, httpapi.ErrUnauthenticated
		},
	}
	h := newHandler(auth, &mockMailLister{})

	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: routeList})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", resp.StatusCode)
	}
}

func TestHandler_UnknownRoute(t *testing.T) {
	h := newHandler(&mockCallerSource{}, &mockMailLister{})
	resp, _ := h.handle(context.Background(), events.APIGatewayV2HTTPRequest{RouteKey: "DELETE /api/mail"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", resp.StatusCode)
	}
}
