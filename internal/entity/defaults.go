package entity

import "fmt"

const (
	crud     = OpCreate | OpUpdate
	softCRUD = OpCreate | OpUpdate | OpSoftDelete
	hardCRUD = OpCreate | OpUpdate | OpHardDelete
)

// customObjectSlots is how many numbered custom-object instance types each
// parent type exposes.
const customObjectSlots = 10

// DefaultTypes returns the built-in entity types.
func DefaultTypes() []Type {
	types := []Type{
		{Name: "BusinessSector", Label: "Business Sector", Ops: crud, Style: StyleQuery, LoadOrder: 10},
		{Name: "Category", Ops: crud, Style: StyleQuery, LoadOrder: 10},
		{Name: "Country", Ops: 0, Style: StyleQuery, LoadOrder: 0},
		{Name: "CorporateUser", Label: "Corporate User", Ops: 0, Style: StyleQuery, LoadOrder: 0},
		{Name: "Skill", Ops: crud, Style: StyleQuery, LoadOrder: 10},
		{Name: "Specialty", Ops: crud, Style: StyleQuery, LoadOrder: 10},
		{Name: "ClientCorporation", Label: "Company", Ops: crud, Style: StyleSearch, ExternalIDLookup: true, LoadOrder: 20},
		{Name: "ClientContact", Label: "Contact", Ops: softCRUD, Style: StyleSearch, ExternalIDLookup: true, LoadOrder: 30},
		{Name: "Candidate", Ops: softCRUD, Style: StyleSearch, ExternalIDLookup: true, LoadOrder: 30},
		{Name: "Lead", Ops: softCRUD, Style: StyleSearch, LoadOrder: 30},
		{Name: "Opportunity", Ops: softCRUD, Style: StyleSearch, LoadOrder: 40},
		{Name: "JobOrder", Label: "Job", Ops: softCRUD, Style: StyleSearch, LoadOrder: 40},
		{Name: "JobSubmission", Label: "Submission", Ops: softCRUD, Style: StyleSearch, ExternalIDLookup: true, LoadOrder: 50},
		{Name: "Placement", Ops: crud, Style: StyleSearch, ExternalIDLookup: true, LoadOrder: 60},
		{Name: "Note", Ops: softCRUD, Style: StyleSearch, ExternalIDLookup: true, LoadOrder: 70},
		{Name: "Appointment", Ops: softCRUD, Style: StyleQuery, LoadOrder: 70},
		{Name: "Task", Ops: softCRUD, Style: StyleQuery, LoadOrder: 70},
		{Name: "Tearsheet", Ops: softCRUD, Style: StyleQuery, LoadOrder: 70},
	}
	for _, parent := range []string{"ClientCorporation", "Candidate", "ClientContact", "JobOrder", "Placement"} {
		for i := 1; i <= customObjectSlots; i++ {
			types = append(types, Type{
				Name:      fmt.Sprintf("%sCustomObjectInstance%d", parent, i),
				Ops:       hardCRUD,
				Style:     StyleQuery,
				Custom:    true,
				LoadOrder: 80,
			})
		}
	}
	return types
}

// DefaultRegistry returns a registry of DefaultTypes.
func DefaultRegistry() *Registry { return NewRegistry(DefaultTypes()...) }
