package notification

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func element(id int64, reason string, read bool) map[string]any {
	return map[string]any{
		"_type":     "Notification",
		"id":        id,
		"reason":    reason,
		"readIAN":   read,
		"createdAt": "2026-05-01T09:00:00Z",
		"updatedAt": "2026-05-01T09:30:00Z",
		"_links": map[string]any{
			"readIAN":   map[string]any{"href": fmt.Sprintf("/api/v3/notifications/%d/read_ian", id), "method": "post"},
			"unreadIAN": map[string]any{"href": fmt.Sprintf("/api/v3/notifications/%d/unread_ian", id), "method": "post"},
			"resource":  map[string]any{"href": fmt.Sprintf("/api/v3/work_packages/%d", id*10), "title": fmt.Sprintf("Task %d", id*10)},
			"project":   map[string]any{"href": "/api/v3/projects/3", "title": "Demo"},
		},
	}
}

func collection(elements ...any) []byte {
	body, _ := json.Marshal(map[string]any{
		"_type":     "Collection",
		"total":     len(elements),
		"count":     len(elements),
		"_embedded": map[string]any{"elements": elements},
	})
	return body
}

func TestDecode_MapsElements(t *testing.T) {
	t.Parallel()

	records, err := Decode(collection(element(7, "mentioned", false)))
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, int64(7), r.ID)
	assert.Equal(t, ReasonMentioned, r.Reason)
	assert.False(t, r.Read)
	assert.Equal(t, "Task 70", r.Message)
	assert.Equal(t, "/api/v3/notifications/7/read_ian", r.Links.ReadHref)
	assert.Equal(t, "/api/v3/notifications/7/unread_ian", r.Links.UnreadHref)
	assert.Equal(t, "/api/v3/projects/3", r.Links.ProjectHref)
	assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), r.CreatedAt.UTC())
	assert.Equal(t, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC), r.UpdatedAt.UTC())

	require.NotNil(t, r.Resource)
	assert.Equal(t, "work_packages", r.Resource.Type)
	assert.Equal(t, "70", r.Resource.ID)
	assert.Equal(t, "Task 70", r.Resource.Name)
}

func TestDecode_PrefersEmbeddedResource(t *testing.T) {
	t.Parallel()

	el := element(1, "watched", false)
	el["_embedded"] = map[string]any{
		"resource": map[string]any{"_type": "WorkPackage", "id": 99, "subject": "Fix login"},
	}

	records, err := Decode(collection(el))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, &Resource{Type: "WorkPackage", ID: "99", Name: "Fix login"}, records[0].Resource)
}

func TestDecode_ExplicitMessageWins(t *testing.T) {
	t.Parallel()

	el := element(1, "mentioned", false)
	el["message"] = "You were mentioned"

	records, err := Decode(collection(el))
	require.NoError(t, err)
	assert.Equal(t, "You were mentioned", records[0].Message)
}

func TestDecode_SkipsMalformedElements(t *testing.T) {
	t.Parallel()

	noID := element(0, "mentioned", false)
	delete(noID, "id")
	stringID := element(0, "mentioned", false)
	stringID["id"] = "abc"
	badDate := element(4, "mentioned", false)
	badDate["createdAt"] = "yesterday"

	records, err := Decode(collection(
		element(1, "mentioned", false),
		noID,
		stringID,
		"not an object",
		badDate,
		element(2, "commented", true),
	))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, int64(2), records[1].ID)
}

func TestDecode_SkipsDuplicateIDs(t *testing.T) {
	t.Parallel()

	records, err := Decode(collection(element(1, "mentioned", false), element(1, "watched", true)))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ReasonMentioned, records[0].Reason)
}

func TestDecode_MinimalElementDefaults(t *testing.T) {
	t.Parallel()

	records, err := Decode(collection(map[string]any{"id": 5}))
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, ReasonOther, r.Reason)
	assert.False(t, r.Read)
	assert.Nil(t, r.Resource)
	assert.Empty(t, r.Links.ReadHref)
	assert.True(t, r.CreatedAt.IsZero())
}

func TestDecode_EmptyCollection(t *testing.T) {
	t.Parallel()

	records, err := Decode(collection())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecode_RejectsMalformedCollection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `<html>`},
		{"missing embedded", `{"_type":"Collection"}`},
		{"missing elements", `{"_embedded":{}}`},
		{"elements not array", `{"_embedded":{"elements":{"id":1}}}`},
		{"array root", `[{"id":1}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestParseReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ReasonMentioned, ParseReason("mentioned"))
	assert.Equal(t, ReasonResponsible, ParseReason("responsible"))
	assert.Equal(t, ReasonOther, ParseReason("dateAlert"))
	assert.Equal(t, ReasonOther, ParseReason(""))
	assert.Equal(t, ReasonOther, ParseReason("Mentioned"))
}

func TestSplitHref(t *testing.T) {
	t.Parallel()

	kind, id := splitHref("https://op.example.com/api/v3/projects/demo/")
	assert.Equal(t, "projects", kind)
	assert.Equal(t, "demo", id)

	kind, id = splitHref("12")
	assert.Empty(t, kind)
	assert.Equal(t, "12", id)
}
