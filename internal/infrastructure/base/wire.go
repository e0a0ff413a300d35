package base

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"TenderSync/internal/domain"
)

const viewURLFormat = "https://www.base.gov.pt/Base4/pt/detalhe/?type=anuncios&id=%s"

// ViewURL is the public page of an announcement on the portal.
func ViewURL(number string) string {
	if number == "" {
		return ""
	}
	return fmt.Sprintf(viewURLFormat, number)
}

// wireAnnouncement mirrors GetInfoAnuncio records. The API is loose about types,
// so several fields accept either a string, a number or a list.
type wireAnnouncement struct {
	Number       flexString  `json:"nAnuncio"`
	PublishedOn  flexString  `json:"dataPublicacao"`
	Description  flexString  `json:"descricaoAnuncio"`
	CPVs         flexStrings `json:"CPVs"`
	EntityNIF    flexString  `json:"nifEntidade"`
	EntityName   flexString  `json:"designacaoEntidade"`
	Model        flexString  `json:"modeloAnuncio"`
	Kind         flexString  `json:"TipoAnuncio"`
	BasePrice    wirePrice   `json:"PrecoBase"`
	Documents    flexString  `json:"PecasProcedimento"`
	DeadlineDays flexString  `json:"PrazoPropostas"`
	Locations    flexStrings `json:"localExecucao"`
}

type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if data[0] == '[' {
		var list flexStrings
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*f = flexString(strings.Join(list, ", "))
		return nil
	}
	*f = flexString(data)
	return nil
}

// wirePrice accepts JSON numbers as they are and strings in the Portuguese format.
type wirePrice struct {
	decimal.Decimal
}

func (p *wirePrice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	p.Decimal = decimal.Zero
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		p.Decimal = parsePrice(s)
		return nil
	}
	if d, err := decimal.NewFromString(string(data)); err == nil {
		p.Decimal = d
	}
	return nil
}

type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}
	if data[0] != '[' {
		var single flexString
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		if s := strings.TrimSpace(string(single)); s != "" {
			*f = flexStrings{s}
		}
		return nil
	}

	var items []flexString
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(flexStrings, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(string(item)); s != "" {
			out = append(out, s)
		}
	}
	*f = out
	return nil
}

// decodeAnnouncement turns one raw record into a domain announcement.
// Records without a number or a parsable publication date are rejected.
func decodeAnnouncement(raw json.RawMessage, loc *time.Location) (domain.Announcement, error) {
	var w wireAnnouncement
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Announcement{}, fmt.Errorf("decode record: %w", err)
	}

	number := strings.TrimSpace(string(w.Number))
	if number == "" {
		return domain.Announcement{}, fmt.Errorf("missing nAnuncio")
	}

	published, err := parseDate(string(w.PublishedOn), loc)
	if err != nil {
		return domain.Announcement{}, fmt.Errorf("announcement %s: %w", number, err)
	}

	description := plainText(string(w.Description))
	cpvs := make([]string, 0, len(w.CPVs))
	for _, code := range w.CPVs {
		cpvs = append(cpvs, plainText(code))
	}

	return domain.Announcement{
		Number:        number,
		PublishedOn:   published,
		DeadlineDays:  parseDays(string(w.DeadlineDays)),
		ProcedureType: plainText(string(w.Model)),
		NoticeType:    plainText(string(w.Kind)),
		Title:         description,
		Description:   description,
		CPVs:          cpvs,
		EntityNIF:     strings.TrimSpace(string(w.EntityNIF)),
		EntityName:    plainText(string(w.EntityName)),
		BasePrice:     w.BasePrice.Decimal,
		DocumentsURL:  strings.TrimSpace(string(w.Documents)),
		ViewURL:       ViewURL(number),
		Locations:     []string(w.Locations),
		Raw:           append(json.RawMessage(nil), raw...),
	}, nil
}

// recordNumber extracts nAnuncio for error reporting on records that fail to decode.
func recordNumber(raw json.RawMessage) string {
	var head struct {
		Number flexString `json:"nAnuncio"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	return strings.TrimSpace(string(head.Number))
}

var dateLayouts = []string{"02/01/2006", "2/1/2006", "2006-01-02"}

func parseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing dataPublicacao")
	}
	if len(value) > 10 {
		value = value[:10]
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid dataPublicacao %q", value)
}

// parsePrice reads "1.234.567,89" style amounts. Dots are always thousands
// separators, so "75.000" is 75000. Unparsable values are zero.
func parsePrice(value string) decimal.Decimal {
	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "€"))
	if value == "" || value == "N/A" {
		return decimal.Zero
	}
	value = strings.ReplaceAll(value, ".", "")
	value = strings.Replace(value, ",", ".", 1)
	value = strings.ReplaceAll(value, " ", "")

	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDays(value string) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if whole, _, ok := strings.Cut(value, "."); ok {
		value = whole
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// plainText strips markup and entities the portal sometimes leaves in free text.
func plainText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
