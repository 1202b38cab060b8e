package types

import (
	"strconv"
	"strings"
)

// UnknownICD10 is the placeholder code used when a diagnosis has no ICD-10 code.
const UnknownICD10 = "UNKNOWN"

// querySuffix biases query embeddings towards eligibility passages.
const querySuffix = "kullanım şartları uygunluk kriterleri rapor gerekli"

// Drug identifies the prescribed drug of a query.
type Drug struct {
	Name             string `json:"name,omitempty"`
	ActiveIngredient string `json:"active_ingredient"`
	Form             string `json:"form,omitempty"`
}

// Diagnosis is a single diagnosis attached to a prescription.
type Diagnosis struct {
	Description string `json:"description"`
	ICD10Code   string `json:"icd10_code,omitempty"`
}

// Patient carries the patient facts used in query construction.
type Patient struct {
	Age int `json:"age,omitempty"`
}

// Query is the set of structured facts a retrieval is made for.
type Query struct {
	Drug      Drug        `json:"drug"`
	Diagnoses []Diagnosis `json:"diagnoses,omitempty"`
	Patient   *Patient    `json:"patient,omitempty"`
}

// Subject returns the exact-match term of the query.
func (q Query) Subject() string {
	return strings.TrimSpace(q.Drug.ActiveIngredient)
}

// Text renders the query as a single string for embedding.
func (q Query) Text() string {
	parts := []string{"İlaç: " + q.Drug.ActiveIngredient}
	if q.Drug.Form != "" {
		parts = append(parts, "Form: "+q.Drug.Form)
	}

	if len(q.Diagnoses) > 0 {
		descs := make([]string, 0, len(q.Diagnoses))
		codes := make([]string, 0, len(q.Diagnoses))
		for _, d := range q.Diagnoses {
			descs = append(descs, d.Description)
			if d.ICD10Code != "" && d.ICD10Code != UnknownICD10 {
				codes = append(codes, d.ICD10Code)
			}
		}
		parts = append(parts, "Tanı: "+strings.Join(descs, ", "))
		if len(codes) > 0 {
			parts = append(parts, "ICD-10: "+strings.Join(codes, ", "))
		}
	}

	if q.Patient != nil && q.Patient.Age > 0 {
		parts = append(parts, "Hasta yaşı: "+strconv.Itoa(q.Patient.Age))
	}

	parts = append(parts, querySuffix)
	return strings.Join(parts, " | ")
}
