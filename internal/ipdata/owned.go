package ipdata

import (
	"encoding/json"
	"time"
)

const defaultDisclosureStage = "submitted"

// Disclosure is an invention disclosure submitted by a research group.
type Disclosure struct {
	Base
	Title       string   `json:"title" gorm:"column:title;size:512;not null" validate:"required,max=512"`
	Description string   `json:"description" gorm:"column:description;type:text"`
	LeadPI      string   `json:"lead_pi" gorm:"column:lead_pi;size:320"`
	Inventors   []string `json:"inventors" gorm:"column:inventors;serializer:json" validate:"dive,required"`
	Department  string   `json:"department" gorm:"column:department;size:320"`
	Stage       string   `json:"stage" gorm:"column:stage;size:64;not null;default:submitted" validate:"omitempty,oneof=submitted under_review assessment filing_decision filed licensed abandoned"`
	TRL         int      `json:"trl" gorm:"column:trl;not null;default:0" validate:"min=0,max=9"`
	CRL         int      `json:"crl" gorm:"column:crl;not null;default:0" validate:"min=0,max=9"`
	BRL         int      `json:"brl" gorm:"column:brl;not null;default:0" validate:"min=0,max=9"`
	IPRL        int      `json:"iprl" gorm:"column:iprl;not null;default:0" validate:"min=0,max=9"`
	TMRL        int      `json:"tmrl" gorm:"column:tmrl;not null;default:0" validate:"min=0,max=9"`
	FRL         int      `json:"frl" gorm:"column:frl;not null;default:0" validate:"min=0,max=9"`
}

// TableName provides the explicit table binding for GORM.
func (Disclosure) TableName() string {
	return "disclosures"
}

// ApplyDefaults fills in the stage of a freshly submitted disclosure.
func (d *Disclosure) ApplyDefaults() {
	if d.Stage == "" {
		d.Stage = defaultDisclosureStage
	}
}

// ReadinessLevels lists the six readiness scores in a fixed order.
func (d Disclosure) ReadinessLevels() []int {
	return []int{d.TRL, d.CRL, d.BRL, d.IPRL, d.TMRL, d.FRL}
}

// IRLAverage is the mean of the scored readiness levels. Unscored levels (zero) are skipped.
func (d Disclosure) IRLAverage() float64 {
	total, scored := 0, 0
	for _, level := range d.ReadinessLevels() {
		if level <= 0 {
			continue
		}
		total += level
		scored++
	}
	if scored == 0 {
		return 0
	}
	return float64(total) / float64(scored)
}

// MarshalJSON adds the computed IRL average to the stored columns.
func (d Disclosure) MarshalJSON() ([]byte, error) {
	type stored Disclosure
	return json.Marshal(struct {
		stored
		IRLAverage float64 `json:"irl_average"`
	}{stored: stored(d), IRLAverage: d.IRLAverage()})
}

// Filing is a patent application in one jurisdiction.
type Filing struct {
	Base
	Title             string     `json:"title" gorm:"column:title;size:512;not null" validate:"required,max=512"`
	ApplicationNumber string     `json:"application_number" gorm:"column:application_number;size:128"`
	Jurisdiction      string     `json:"jurisdiction" gorm:"column:jurisdiction;size:64"`
	FilingType        string     `json:"filing_type" gorm:"column:filing_type;size:32;not null" validate:"required,oneof=provisional nonprovisional pct national design"`
	Status            string     `json:"status" gorm:"column:status;size:64;not null;default:pending"`
	FilingDate        *time.Time `json:"filing_date" gorm:"column:filing_date"`
	PriorityDate      *time.Time `json:"priority_date" gorm:"column:priority_date"`
	DisclosureID      string     `json:"disclosure_id" gorm:"column:disclosure_id;size:190;index"`
}

// TableName provides the explicit table binding for GORM.
func (Filing) TableName() string {
	return "filings"
}

func (f Filing) earliestDate() (time.Time, bool) {
	switch {
	case f.PriorityDate != nil:
		return *f.PriorityDate, true
	case f.FilingDate != nil:
		return *f.FilingDate, true
	default:
		return time.Time{}, false
	}
}

// ConversionDeadline estimates the 12 month deadline for converting a provisional or claiming priority abroad.
func (f Filing) ConversionDeadline() (time.Time, bool) {
	start, ok := f.earliestDate()
	if !ok {
		return time.Time{}, false
	}
	return start.AddDate(0, 12, 0), true
}

// NationalPhaseDeadline estimates the 30 month national phase entry deadline.
func (f Filing) NationalPhaseDeadline() (time.Time, bool) {
	start, ok := f.earliestDate()
	if !ok {
		return time.Time{}, false
	}
	return start.AddDate(0, 30, 0), true
}

// MarshalJSON adds the estimated deadlines to the stored columns.
func (f Filing) MarshalJSON() ([]byte, error) {
	type stored Filing
	payload := struct {
		stored
		ConversionDeadline    *time.Time `json:"conversion_deadline"`
		NationalPhaseDeadline *time.Time `json:"national_phase_deadline"`
	}{stored: stored(f)}
	if deadline, ok := f.ConversionDeadline(); ok {
		payload.ConversionDeadline = &deadline
	}
	if deadline, ok := f.NationalPhaseDeadline(); ok {
		payload.NationalPhaseDeadline = &deadline
	}
	return json.Marshal(payload)
}

// FilingRelationship is a directed edge between two filings, such as a continuation.
type FilingRelationship struct {
	Base
	ParentFilingID   string `json:"parent_filing_id" gorm:"column:parent_filing_id;size:190;not null;index" validate:"required,nefield=ChildFilingID"`
	ChildFilingID    string `json:"child_filing_id" gorm:"column:child_filing_id;size:190;not null;index" validate:"required"`
	RelationshipType string `json:"relationship_type" gorm:"column:relationship_type;size:64;not null" validate:"required,oneof=continuation continuation_in_part divisional provisional_conversion national_phase"`
	PriorityClaim    bool   `json:"priority_claim" gorm:"column:priority_claim;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (FilingRelationship) TableName() string {
	return "filing_relationships"
}

// Project groups disclosures and filings under one research programme.
type Project struct {
	Base
	Name        string     `json:"name" gorm:"column:name;size:320;not null" validate:"required,max=320"`
	Description string     `json:"description" gorm:"column:description;type:text"`
	Status      string     `json:"status" gorm:"column:status;size:64;not null;default:active"`
	StartDate   *time.Time `json:"start_date" gorm:"column:start_date"`
	EndDate     *time.Time `json:"end_date" gorm:"column:end_date"`
}

// TableName provides the explicit table binding for GORM.
func (Project) TableName() string {
	return "projects"
}

// Agreement is a legal agreement such as a license, NDA or material transfer.
type Agreement struct {
	Base
	Title          string     `json:"title" gorm:"column:title;size:512;not null" validate:"required,max=512"`
	AgreementType  string     `json:"agreement_type" gorm:"column:agreement_type;size:64;not null" validate:"required,oneof=license option nda mta sponsored_research collaboration other"`
	Counterparty   string     `json:"counterparty" gorm:"column:counterparty;size:320"`
	Status         string     `json:"status" gorm:"column:status;size:64;not null;default:draft"`
	EffectiveDate  *time.Time `json:"effective_date" gorm:"column:effective_date"`
	ExpirationDate *time.Time `json:"expiration_date" gorm:"column:expiration_date"`
}

// TableName provides the explicit table binding for GORM.
func (Agreement) TableName() string {
	return "agreements"
}

// Startup is a spin-out company built on licensed technology.
type Startup struct {
	Base
	Name               string   `json:"name" gorm:"column:name;size:320;not null" validate:"required,max=320"`
	Founders           []string `json:"founders" gorm:"column:founders;serializer:json"`
	Stage              string   `json:"stage" gorm:"column:stage;size:64"`
	Website            string   `json:"website" gorm:"column:website;size:512" validate:"omitempty,url"`
	LicenseAgreementID string   `json:"license_agreement_id" gorm:"column:license_agreement_id;size:190"`
}

// TableName provides the explicit table binding for GORM.
func (Startup) TableName() string {
	return "startups"
}

// Inventor is a person named on disclosures and filings.
type Inventor struct {
	Base
	Name        string `json:"name" gorm:"column:name;size:320;not null" validate:"required,max=320"`
	Email       string `json:"email" gorm:"column:email;size:320" validate:"omitempty,email"`
	Department  string `json:"department" gorm:"column:department;size:320"`
	Affiliation string `json:"affiliation" gorm:"column:affiliation;size:320"`
}

// TableName provides the explicit table binding for GORM.
func (Inventor) TableName() string {
	return "inventors"
}

// TeamMember is a staff member of the technology transfer office.
type TeamMember struct {
	Base
	Name  string `json:"name" gorm:"column:name;size:320;not null" validate:"required,max=320"`
	Email string `json:"email" gorm:"column:email;size:320" validate:"omitempty,email"`
	Role  string `json:"role" gorm:"column:role;size:64"`
}

// TableName provides the explicit table binding for GORM.
func (TeamMember) TableName() string {
	return "team_members"
}

// Annuity is a maintenance fee due on a filing.
type Annuity struct {
	Base
	FilingID    string     `json:"filing_id" gorm:"column:filing_id;size:190;not null;index" validate:"required"`
	DueDate     *time.Time `json:"due_date" gorm:"column:due_date"`
	AmountCents int64      `json:"amount_cents" gorm:"column:amount_cents;not null;default:0" validate:"min=0"`
	Currency    string     `json:"currency" gorm:"column:currency;size:3" validate:"omitempty,len=3"`
	Paid        bool       `json:"paid" gorm:"column:paid;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Annuity) TableName() string {
	return "annuities"
}

const officeActionResponseMonths = 3

// OfficeAction is a communication from a patent office that needs a response.
type OfficeAction struct {
	Base
	FilingID    string     `json:"filing_id" gorm:"column:filing_id;size:190;not null;index" validate:"required"`
	ActionType  string     `json:"action_type" gorm:"column:action_type;size:64;not null" validate:"required"`
	MailingDate *time.Time `json:"mailing_date" gorm:"column:mailing_date"`
	Status      string     `json:"status" gorm:"column:status;size:64;not null;default:open"`
}

// TableName provides the explicit table binding for GORM.
func (OfficeAction) TableName() string {
	return "office_actions"
}

// ResponseDue is the shortened statutory period counted from the mailing date.
func (o OfficeAction) ResponseDue() (time.Time, bool) {
	if o.MailingDate == nil {
		return time.Time{}, false
	}
	return o.MailingDate.AddDate(0, officeActionResponseMonths, 0), true
}

// MarshalJSON adds the response due date to the stored columns.
func (o OfficeAction) MarshalJSON() ([]byte, error) {
	type stored OfficeAction
	payload := struct {
		stored
		ResponseDue *time.Time `json:"response_due"`
	}{stored: stored(o)}
	if due, ok := o.ResponseDue(); ok {
		payload.ResponseDue = &due
	}
	return json.Marshal(payload)
}

// Alert is a user facing reminder.
type Alert struct {
	Base
	Title     string     `json:"title" gorm:"column:title;size:512;not null" validate:"required,max=512"`
	Message   string     `json:"message" gorm:"column:message;type:text"`
	Severity  string     `json:"severity" gorm:"column:severity;size:16;not null;default:info" validate:"omitempty,oneof=info warning critical"`
	DueDate   *time.Time `json:"due_date" gorm:"column:due_date"`
	Dismissed bool       `json:"dismissed" gorm:"column:dismissed;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Alert) TableName() string {
	return "alerts"
}
