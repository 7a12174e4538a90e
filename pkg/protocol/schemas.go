package protocol

import (
	"sync"

	"github.com/vfrnav/vfrnav/pkg/schema"
)

var (
	builtinOnce    sync.Once
	builtinSchemas map[MessageID]*schema.Schema
)

// Schemas returns the built-in schema table. A nil entry means the kind is
// passed through unreduced and unchecked. The returned map is a copy.
func Schemas() map[MessageID]*schema.Schema {
	builtinOnce.Do(func() {
		builtinSchemas = map[MessageID]*schema.Schema{
			IDSharedSettings:  schema.MustFor[SharedSettings](),
			IDGetSettings:     nil,
			IDGetPlaneRecords: nil,
			IDGetFacilities:   schema.MustFor[GetFacilities](),
			IDFacilities:      schema.MustFor[Facilities](),
			IDGetMetar:        schema.MustFor[GetMetar](),
			IDMetar:           schema.MustFor[Metar](),
			IDPlanePos:        schema.MustFor[PlanePos](),
			IDPlanePoses:      schema.MustFor[PlanePoses](),
			IDPlaneRecords:    schema.MustFor[PlaneRecords](),
			IDRemoveRecord:    schema.MustFor[RemoveRecord](),
			IDEditRecord:      schema.MustFor[EditRecord](),
			IDActiveRecord:    schema.MustFor[ActiveRecord](),
			IDGetRecord:       schema.MustFor[GetRecord](),
		}
	})
	out := make(map[MessageID]*schema.Schema, len(builtinSchemas))
	for k, v := range builtinSchemas {
		out[k] = v
	}
	return out
}

// SchemasWith overlays registry definitions named after a message id on the
// built-in table. Definitions for unknown names are returned in ignored.
func SchemasWith(reg *schema.Registry) (table map[MessageID]*schema.Schema, ignored []string) {
	table = Schemas()
	if reg == nil {
		return table, nil
	}
	for _, def := range reg.List() {
		id := MessageID(def.Name)
		if !id.Valid() {
			ignored = append(ignored, def.Name)
			continue
		}
		table[id] = def.Schema
	}
	return table, ignored
}
