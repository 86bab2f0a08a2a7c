package domain

import "time"

// Entity type discriminators used by the store.
const (
	EntityTypePatient  = "patient"
	EntityTypeCarePlan = "carePlan"
	EntityTypeTask     = "task"
	EntityTypeContact  = "contact"
	EntityTypeOutcome  = "outcome"
)

// Patient is a versioned care-plan subject.
type Patient struct {
	VersionMeta

	Name      string     `json:"name"`
	Sex       string     `json:"sex,omitempty"`
	BirthDate *time.Time `json:"birthDate,omitempty"`
	Allergies []string   `json:"allergies,omitempty"`
}

func (p *Patient) Meta() *VersionMeta { return &p.VersionMeta }
func (p *Patient) EntityType() string { return EntityTypePatient }

func (p *Patient) Payload() (map[string]any, error) {
	payload := map[string]any{"name": p.Name}
	if p.Sex != "" {
		payload["sex"] = p.Sex
	}
	if p.BirthDate != nil {
		payload["birthDate"] = p.BirthDate.Format(time.RFC3339)
	}
	if len(p.Allergies) > 0 {
		payload["allergies"] = append([]string(nil), p.Allergies...)
	}
	return payload, nil
}

// CarePlan groups tasks for one patient.
type CarePlan struct {
	VersionMeta

	Title     string `json:"title"`
	PatientID string `json:"patientId,omitempty"`
}

func (c *CarePlan) Meta() *VersionMeta { return &c.VersionMeta }
func (c *CarePlan) EntityType() string { return EntityTypeCarePlan }

func (c *CarePlan) Payload() (map[string]any, error) {
	payload := map[string]any{"title": c.Title}
	if c.PatientID != "" {
		payload["patientId"] = c.PatientID
	}
	return payload, nil
}

// Task is a scheduled activity belonging to a care plan.
type Task struct {
	VersionMeta

	Title        string `json:"title"`
	Instructions string `json:"instructions,omitempty"`
	CarePlanID   string `json:"carePlanId,omitempty"`
	Impacts      bool   `json:"impactsAdherence"`
}

func (t *Task) Meta() *VersionMeta { return &t.VersionMeta }
func (t *Task) EntityType() string { return EntityTypeTask }

func (t *Task) Payload() (map[string]any, error) {
	payload := map[string]any{
		"title":            t.Title,
		"impactsAdherence": t.Impacts,
	}
	if t.Instructions != "" {
		payload["instructions"] = t.Instructions
	}
	if t.CarePlanID != "" {
		payload["carePlanId"] = t.CarePlanID
	}
	return payload, nil
}

// Contact is a versioned care-team contact card.
type Contact struct {
	VersionMeta

	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	PatientID    string `json:"patientId,omitempty"`
}

func (c *Contact) Meta() *VersionMeta { return &c.VersionMeta }
func (c *Contact) EntityType() string { return EntityTypeContact }

func (c *Contact) Payload() (map[string]any, error) {
	payload := map[string]any{"name": c.Name}
	if c.Organization != "" {
		payload["organization"] = c.Organization
	}
	if c.EmailAddress != "" {
		payload["emailAddress"] = c.EmailAddress
	}
	if c.PatientID != "" {
		payload["patientId"] = c.PatientID
	}
	return payload, nil
}

// Outcome records the result of completing a task event.
type Outcome struct {
	VersionMeta

	TaskID         string         `json:"taskId"`
	TaskOccurrence int            `json:"taskOccurrence"`
	Values         map[string]any `json:"values,omitempty"`
}

func (o *Outcome) Meta() *VersionMeta { return &o.VersionMeta }
func (o *Outcome) EntityType() string { return EntityTypeOutcome }

func (o *Outcome) Payload() (map[string]any, error) {
	payload := map[string]any{
		"taskId":         o.TaskID,
		"taskOccurrence": o.TaskOccurrence,
	}
	if len(o.Values) > 0 {
		values := make(map[string]any, len(o.Values))
		for k, v := range o.Values {
			values[k] = v
		}
		payload["values"] = values
	}
	return payload, nil
}
