package invoice

import "time"

// Point is a vertex in document-relative coordinates, both axes in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Box is an axis-aligned bounding box in document-relative coordinates.
type Box struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Region locates a value on the source document. At most one of Box and
// Polygon is set.
type Region struct {
	Box     *Box    `json:"box,omitempty"`
	Polygon []Point `json:"polygon,omitempty"`
}

// Bounds returns the region as a min/max box, converting polygons to their
// enclosing rectangle. ok is false for an empty region.
func (r Region) Bounds() (Box, bool) {
	if r.Box != nil {
		return *r.Box, true
	}
	if len(r.Polygon) == 0 {
		return Box{}, false
	}
	b := Box{XMin: 1, YMin: 1}
	for _, p := range r.Polygon {
		b.XMin = min(b.XMin, p.X)
		b.YMin = min(b.YMin, p.Y)
		b.XMax = max(b.XMax, p.X)
		b.YMax = max(b.YMax, p.Y)
	}
	return b, true
}

// GroundedValue is an extracted text value together with where it was found.
type GroundedValue struct {
	Value    string  `json:"value,omitempty"`
	Location *Region `json:"location,omitempty"`
}

// IsEmpty reports whether neither a value nor a location is present.
func (g GroundedValue) IsEmpty() bool {
	return g.Value == "" && g.Location == nil
}

// Fields maps a field key to its grounded value. Lookups of unknown keys
// yield an empty GroundedValue.
type Fields map[string]GroundedValue

// Get returns the value for key, or an empty GroundedValue when absent.
func (f Fields) Get(key string) GroundedValue {
	if f == nil {
		return GroundedValue{}
	}
	return f[key]
}

// Clone returns a shallow copy of f. Regions are shared.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// CloneRows copies a slice of line-item rows.
func CloneRows(rows []Fields) []Fields {
	if rows == nil {
		return nil
	}
	out := make([]Fields, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// FieldConfig describes one extractable field.
type FieldConfig struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// Job is one document's processing record, from intake through approval.
type Job struct {
	ID                   string        `json:"id"`
	FileName             string        `json:"file_name"`
	FileType             string        `json:"file_type"`
	Status               Status        `json:"status"`
	ReviewStatus         ReviewStatus  `json:"review_status"`
	ExtractedData        Fields        `json:"extracted_data"`
	LineItems            []Fields      `json:"line_items,omitempty"`
	ErrorMessage         string        `json:"error_message,omitempty"`
	ConfigID             string        `json:"config_id"`
	CustomFields         []FieldConfig `json:"custom_fields,omitempty"`
	CustomLineItemFields []FieldConfig `json:"custom_line_item_fields,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Clone returns a deep enough copy of j that callers may mutate maps and
// slices without affecting the original.
func (j Job) Clone() Job {
	out := j
	out.ExtractedData = j.ExtractedData.Clone()
	out.LineItems = CloneRows(j.LineItems)
	out.CustomFields = append([]FieldConfig(nil), j.CustomFields...)
	out.CustomLineItemFields = append([]FieldConfig(nil), j.CustomLineItemFields...)
	return out
}

// Validate checks the status/payload invariants of a job record.
func (j Job) Validate() error {
	if !j.Status.Valid() {
		return &InvariantError{JobID: j.ID, Reason: "unknown status " + string(j.Status)}
	}
	hasData := j.ExtractedData != nil
	if hasData != j.Status.HasData() {
		return &InvariantError{JobID: j.ID, Reason: "extracted data presence does not match status " + string(j.Status)}
	}
	if len(j.LineItems) > 0 && !j.Status.HasData() {
		return &InvariantError{JobID: j.ID, Reason: "line items present in status " + string(j.Status)}
	}
	hasErr := j.ErrorMessage != ""
	if hasErr != (j.Status == StatusError) {
		return &InvariantError{JobID: j.ID, Reason: "error message presence does not match status " + string(j.Status)}
	}
	return nil
}

// InvariantError reports a job record whose fields contradict its status.
type InvariantError struct {
	JobID  string
	Reason string
}

func (e *InvariantError) Error() string {
	return "job " + e.JobID + ": " + e.Reason
}
