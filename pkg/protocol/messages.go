// Package protocol defines the message contract spoken between EFB panels
// and the companion server. Every frame carries one of the MessageID kinds
// below; no ad-hoc message kinds.
package protocol

// MessageID is the closed set of message kinds known to both ends.
type MessageID string

const (
	IDSharedSettings  MessageID = "SharedSettings"
	IDGetSettings     MessageID = "GetSettings"
	IDGetPlaneRecords MessageID = "GetPlaneRecords"
	IDGetFacilities   MessageID = "GetFacilities"
	IDFacilities      MessageID = "Facilities"
	IDGetMetar        MessageID = "GetMetar"
	IDMetar           MessageID = "Metar"
	IDPlanePos        MessageID = "PlanePos"
	IDPlanePoses      MessageID = "PlanePoses"
	IDPlaneRecords    MessageID = "PlaneRecords"
	IDRemoveRecord    MessageID = "RemoveRecord"
	IDEditRecord      MessageID = "EditRecord"
	IDActiveRecord    MessageID = "ActiveRecord"
	IDGetRecord       MessageID = "GetRecord"
)

// AllMessageIDs returns every known message kind.
func AllMessageIDs() []MessageID {
	return []MessageID{
		IDSharedSettings, IDGetSettings, IDGetPlaneRecords, IDGetFacilities,
		IDFacilities, IDGetMetar, IDMetar, IDPlanePos, IDPlanePoses,
		IDPlaneRecords, IDRemoveRecord, IDEditRecord, IDActiveRecord, IDGetRecord,
	}
}

// String implements fmt.Stringer.
func (id MessageID) String() string { return string(id) }

// Valid returns true if the message kind is recognized.
func (id MessageID) Valid() bool {
	for _, m := range AllMessageIDs() {
		if m == id {
			return true
		}
	}
	return false
}

// Message is implemented by every payload type; the discriminant of the
// tagged union is its MessageID.
type Message interface {
	MessageID() MessageID
}

// New returns a zero payload for id, ready to be decoded into.
func New(id MessageID) (Message, bool) {
	switch id {
	case IDSharedSettings:
		return &SharedSettings{}, true
	case IDGetSettings:
		return &GetSettings{}, true
	case IDGetPlaneRecords:
		return &GetPlaneRecords{}, true
	case IDGetFacilities:
		return &GetFacilities{}, true
	case IDFacilities:
		return &Facilities{}, true
	case IDGetMetar:
		return &GetMetar{}, true
	case IDMetar:
		return &Metar{}, true
	case IDPlanePos:
		return &PlanePos{}, true
	case IDPlanePoses:
		return &PlanePoses{}, true
	case IDPlaneRecords:
		return &PlaneRecords{}, true
	case IDRemoveRecord:
		return &RemoveRecord{}, true
	case IDEditRecord:
		return &EditRecord{}, true
	case IDActiveRecord:
		return &ActiveRecord{}, true
	case IDGetRecord:
		return &GetRecord{}, true
	}
	return nil, false
}

// --- Typed Payloads ---

// SharedSettings is the subset of EFB settings mirrored between panels and
// persisted by the server.
type SharedSettings struct {
	SpeedUnit    string   `json:"speedUnit"`
	DistanceUnit string   `json:"distanceUnit"`
	AltitudeUnit string   `json:"altitudeUnit"`
	MapLayers    []string `json:"mapLayers"`
	RecordPlane  bool     `json:"recordPlane"`
	SIAAddr      string   `json:"SIAAddr,omitempty"`
	SIAAuth      string   `json:"SIAAuth,omitempty"`
}

// DefaultSettings returns the settings a fresh install starts with.
func DefaultSettings() SharedSettings {
	return SharedSettings{
		SpeedUnit:    "kts",
		DistanceUnit: "nm",
		AltitudeUnit: "ft",
		MapLayers:    []string{"openstreetmap"},
		RecordPlane:  true,
	}
}

type GetSettings struct{}

type GetPlaneRecords struct{}

// GetFacilities asks the simulator side for facilities around a point.
type GetFacilities struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Radius float64 `json:"radius"` // nautical miles
	Limit  int     `json:"limit,omitempty"`
}

type Frequency struct {
	Name string  `json:"name"`
	MHz  float64 `json:"mhz"`
}

type Runway struct {
	Designation string  `json:"designation"`
	Length      float64 `json:"length"` // metres
	Surface     string  `json:"surface,omitempty"`
}

type Facility struct {
	ICAO        string      `json:"icao"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Lat         float64     `json:"lat"`
	Lon         float64     `json:"lon"`
	Elevation   *float64    `json:"elevation,omitempty"`
	Frequencies []Frequency `json:"frequencies,omitempty"`
	Runways     []Runway    `json:"runways,omitempty"`
}

type Facilities struct {
	Facilities []Facility `json:"facilities"`
}

type GetMetar struct {
	ICAO string `json:"icao"`
}

// Metar carries the latest report for an airport; either report may be
// missing when the station publishes none.
type Metar struct {
	ICAO  string `json:"icao"`
	Metar string `json:"metar,omitempty"`
	TAF   string `json:"taf,omitempty"`
}

// PlanePos is one position sample from the simulator. Date is Unix millis.
type PlanePos struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude float64 `json:"altitude"`
	Heading  float64 `json:"heading"`
	Speed    float64 `json:"speed,omitempty"`
	Date     int64   `json:"date"`
}

// PlanePoses answers GetRecord with the positions of one record.
type PlanePoses struct {
	ID        string     `json:"id"`
	Positions []PlanePos `json:"positions"`
}

type PlaneRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Date   int64  `json:"date"`
	Active bool   `json:"active"`
}

type PlaneRecords struct {
	Records []PlaneRecord `json:"records"`
}

type RemoveRecord struct {
	ID string `json:"id"`
}

type EditRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ActiveRecord selects the record new positions are appended to. An absent
// ID stops recording.
type ActiveRecord struct {
	ID string `json:"id,omitempty"`
}

type GetRecord struct {
	ID string `json:"id"`
}

func (SharedSettings) MessageID() MessageID  { return IDSharedSettings }
func (GetSettings) MessageID() MessageID     { return IDGetSettings }
func (GetPlaneRecords) MessageID() MessageID { return IDGetPlaneRecords }
func (GetFacilities) MessageID() MessageID   { return IDGetFacilities }
func (Facilities) MessageID() MessageID      { return IDFacilities }
func (GetMetar) MessageID() MessageID        { return IDGetMetar }
func (Metar) MessageID() MessageID           { return IDMetar }
func (PlanePos) MessageID() MessageID        { return IDPlanePos }
func (PlanePoses) MessageID() MessageID      { return IDPlanePoses }
func (PlaneRecords) MessageID() MessageID    { return IDPlaneRecords }
func (RemoveRecord) MessageID() MessageID    { return IDRemoveRecord }
func (EditRecord) MessageID() MessageID      { return IDEditRecord }
func (ActiveRecord) MessageID() MessageID    { return IDActiveRecord }
func (GetRecord) MessageID() MessageID       { return IDGetRecord }
