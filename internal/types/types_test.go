package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimestamp_UnmarshalRepresentations(t *testing.T) {
	want := time.Date(2018, 6, 24, 19, 52, 33, 0, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{"rfc3339", `"2018-06-24T19:52:33Z"`},
		{"rfc3339 with millis", `"2018-06-24T19:52:33.000Z"`},
		{"offset", `"2018-06-24T21:52:33+02:00"`},
		{"no zone", `"2018-06-24T19:52:33"`},
		{"epoch millis number", `1529869953000`},
		{"epoch millis string", `"1529869953000"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.input), &ts); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if !ts.Equal(want) {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, ts.Time, want)
			}
		})
	}
}

func TestTimestamp_NullIsZero(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`null`), &ts); err != nil {
		t.Fatalf("Unmarshal(null) error = %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("expected zero timestamp, got %v", ts.Time)
	}
}

func TestTimestamp_RejectsGarbage(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
	if err := json.Unmarshal([]byte(`true`), &ts); err == nil {
		t.Error("expected error for boolean timestamp")
	}
}

func TestTimestamp_MarshalIsRFC3339(t *testing.T) {
	ts := FromMillis(1529869953123)
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != `"2018-06-24T19:52:33.123Z"` {
		t.Errorf("Marshal = %s", data)
	}

	zero, _ := json.Marshal(Timestamp{})
	if string(zero) != "null" {
		t.Errorf("Marshal(zero) = %s, want null", zero)
	}
}

func TestTimestamp_NumericAndStringOrderAgree(t *testing.T) {
	// Raw string comparison would put "2018..." after "1529..." regardless of instant.
	earlier := MustParseTimestamp("2018-06-24T19:52:33Z")
	later := FromMillis(1529869953000 + 1)

	if !later.After(earlier.Time) {
		t.Errorf("expected %v after %v", later.Time, earlier.Time)
	}
}

func TestFlag_Unmarshal(t *testing.T) {
	tests := []struct {
		input string
		want  Flag
	}{
		{`true`, true},
		{`false`, false},
		{`"true"`, true},
		{`"false"`, false},
		{`null`, false},
	}
	for _, tt := range tests {
		var f Flag
		if err := json.Unmarshal([]byte(tt.input), &f); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
		}
		if f != tt.want {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, f, tt.want)
		}
	}

	var f Flag
	if err := json.Unmarshal([]byte(`"maybe"`), &f); err == nil {
		t.Error("expected error for non-boolean string")
	}
}

func TestFlexInt_Unmarshal(t *testing.T) {
	var c Comment
	data := `{"id": 3, "restaurant_id": "7", "rating": 4, "name": "Ann", "comments": "ok"}`
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if c.ParentID() != 7 {
		t.Errorf("ParentID = %d, want 7", c.ParentID())
	}
	if c.Rating != 4 {
		t.Errorf("Rating = %d, want 4", c.Rating)
	}

	var n FlexInt
	if err := json.Unmarshal([]byte(`"four"`), &n); err == nil {
		t.Error("expected error for non-numeric string")
	}
}

func TestEntity_DecodeRemoteShape(t *testing.T) {
	data := `{
		"id": 1,
		"name": "Mission Chinese Food",
		"neighborhood": "Manhattan",
		"photograph": "1",
		"address": "171 E Broadway, New York, NY 10002",
		"latlng": {"lat": 40.713829, "lng": -73.989667},
		"cuisine_type": "Asian",
		"operating_hours": {"Monday": "5:30 pm - 11:00 pm"},
		"createdAt": 1504095567183,
		"updatedAt": "2018-06-24T19:52:33.000Z",
		"is_favorite": "true"
	}`

	var e Entity
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if e.Key() != 1 || e.CuisineType != "Asian" || e.Neighborhood != "Manhattan" {
		t.Errorf("unexpected entity: %+v", e)
	}
	if !e.IsFavorite {
		t.Error("expected is_favorite to decode from string")
	}
	if e.LatLng == nil || e.LatLng.Lat != 40.713829 {
		t.Errorf("LatLng = %+v", e.LatLng)
	}
	if e.CreatedAt.UnixMilli() != 1504095567183 {
		t.Errorf("CreatedAt = %v", e.CreatedAt.Time)
	}
	if !e.Modified().Equal(time.Date(2018, 6, 24, 19, 52, 33, 0, time.UTC)) {
		t.Errorf("Modified = %v", e.Modified())
	}
}

func TestEntity_PhotoRefFallsBackToID(t *testing.T) {
	if got := (Entity{ID: 9}).PhotoRef(); got != "9" {
		t.Errorf("PhotoRef = %q, want 9", got)
	}
	if got := (Entity{ID: 9, Photograph: "nine"}).PhotoRef(); got != "nine" {
		t.Errorf("PhotoRef = %q, want nine", got)
	}
}

func TestNewComment_Provisional(t *testing.T) {
	created := MustParseTimestamp("2024-03-01T10:00:00Z")
	p := NewComment{RestaurantID: 2, Name: "Bo", Rating: 5, Comments: "great", CreatedAt: created}.Provisional()

	if p.ID != 0 {
		t.Errorf("provisional comment must not carry an id, got %d", p.ID)
	}
	if !p.UpdatedAt.Equal(created.Time) {
		t.Errorf("UpdatedAt = %v, want %v", p.UpdatedAt.Time, created.Time)
	}
}
