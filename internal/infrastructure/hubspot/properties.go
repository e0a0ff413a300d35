package hubspot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TenderSync/internal/domain"
)

const (
	DefaultDealStage = "appointmentscheduled"
	DefaultPipeline  = "default"

	// PropertyNumber is the custom deal property holding the announcement number.
	PropertyNumber = "numero_de_anuncio"

	dealNameLimit    = 100
	descriptionLimit = 500
	cpvLimit         = 5
)

// DealProperties maps an announcement onto HubSpot deal properties.
// Optional values (publication date, price) are omitted when unknown.
func DealProperties(a domain.Announcement, stage, pipeline string) map[string]any {
	if stage == "" {
		stage = DefaultDealStage
	}
	if pipeline == "" {
		pipeline = DefaultPipeline
	}

	name := truncate(a.Description, dealNameLimit)
	if name == "" {
		name = "Anúncio " + a.Number
	}

	deadline := ""
	if d, ok := a.Deadline(); ok {
		deadline = d.Format("02/01/2006")
	}

	cpvs := a.CPVs
	if len(cpvs) > cpvLimit {
		cpvs = cpvs[:cpvLimit]
	}

	props := map[string]any{
		"dealname":                  name,
		"dealstage":                 stage,
		"pipeline":                  pipeline,
		"ver_anuncio":               a.ViewURL,
		"documentos":                a.DocumentsURL,
		PropertyNumber:              a.Number,
		"prazo_de_submissao":        deadline,
		"descricao_do_procedimento": truncate(a.Description, descriptionLimit),
		"tipo":                      a.ProcedureType,
		"codigos_cpv":               strings.Join(cpvs, ", "),
		"entidade_contratante":      a.EntityName,
	}

	if !a.PublishedOn.IsZero() {
		y, m, d := a.PublishedOn.Date()
		props["data_de_publicacao"] = time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixMilli()
	}
	if a.BasePrice.IsPositive() {
		props["preco_eur"] = json.Number(a.BasePrice.String())
	}
	return props
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func dealLabel(a domain.Announcement) string {
	return fmt.Sprintf("announcement %s", a.Number)
}
