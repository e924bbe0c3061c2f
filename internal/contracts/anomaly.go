package contracts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type AnomalyType string

const (
	TypePriceSpike   AnomalyType = "price_spike"
	TypeTariffChange AnomalyType = "tariff_change"
	TypeFreightSurge AnomalyType = "freight_surge"
	TypeFXVolatility AnomalyType = "fx_volatility"
	TypeCustom       AnomalyType = "custom"
)

func (t AnomalyType) Valid() bool {
	switch t {
	case TypePriceSpike, TypeTariffChange, TypeFreightSurge, TypeFXVolatility, TypeCustom:
		return true
	default:
		return false
	}
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

func (s Severity) Weight() float64 {
	return float64(s.Rank()) / 4.0
}

// Entities are the references shared by every anomaly variant. Correlation
// compares them key by key.
type Entities struct {
	Product      string `json:"product,omitempty"`
	Company      string `json:"company,omitempty"`
	HSCode       string `json:"hs_code,omitempty"`
	Country      string `json:"country,omitempty"`
	CurrencyPair string `json:"currency_pair,omitempty"`
}

// Shared counts entity keys present on both sides with equal values.
func (e Entities) Shared(other Entities) int {
	n := 0
	for _, pair := range [][2]string{
		{e.Product, other.Product},
		{e.Company, other.Company},
		{e.HSCode, other.HSCode},
		{e.Country, other.Country},
		{e.CurrencyPair, other.CurrencyPair},
	} {
		if pair[0] != "" && strings.EqualFold(pair[0], pair[1]) {
			n++
		}
	}
	return n
}

// AnomalyDetail is the type-specific part of an anomaly.
type AnomalyDetail interface {
	AnomalyType() AnomalyType
}

type PriceSpikeDetail struct {
	PreviousPrice float64 `json:"previous_price,omitempty"`
	CurrentPrice  float64 `json:"current_price,omitempty"`
	ChangePct     float64 `json:"change_pct,omitempty"`
}

type TariffChangeDetail struct {
	OldRate float64 `json:"old_rate,omitempty"`
	NewRate float64 `json:"new_rate,omitempty"`
	Gazette string  `json:"gazette,omitempty"`
}

type FreightSurgeDetail struct {
	Route          string  `json:"route,omitempty"`
	Carrier        string  `json:"carrier,omitempty"`
	IndexChangePct float64 `json:"index_change_pct,omitempty"`
}

type FXVolatilityDetail struct {
	VolatilityPct float64 `json:"volatility_pct,omitempty"`
}

type CustomDetail struct {
	Fields map[string]string `json:"fields,omitempty"`
}

func (PriceSpikeDetail) AnomalyType() AnomalyType   { return TypePriceSpike }
func (TariffChangeDetail) AnomalyType() AnomalyType { return TypeTariffChange }
func (FreightSurgeDetail) AnomalyType() AnomalyType { return TypeFreightSurge }
func (FXVolatilityDetail) AnomalyType() AnomalyType { return TypeFXVolatility }
func (CustomDetail) AnomalyType() AnomalyType       { return TypeCustom }

type Anomaly struct {
	ID        string        `json:"id"`
	Type      AnomalyType   `json:"type"`
	Severity  Severity      `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	Entities  Entities      `json:"entities"`
	Detail    AnomalyDetail `json:"detail,omitempty"`
}

// DecodeAnomaly builds the typed variant from a stored row. Entity references
// and type-specific fields both live in the free-form metadata object.
func DecodeAnomaly(id, typ, severity string, ts time.Time, metadata map[string]any) (Anomaly, error) {
	a := Anomaly{
		ID:        id,
		Type:      AnomalyType(typ),
		Severity:  Severity(severity),
		Timestamp: ts.UTC(),
	}
	if !a.Type.Valid() {
		return Anomaly{}, fmt.Errorf("anomaly %s: unknown type %q", id, typ)
	}
	if a.Severity.Rank() == 0 {
		return Anomaly{}, fmt.Errorf("anomaly %s: unknown severity %q", id, severity)
	}

	a.Entities = Entities{
		Product:      metaString(metadata, "product"),
		Company:      metaString(metadata, "company"),
		HSCode:       metaString(metadata, "hs_code"),
		Country:      metaString(metadata, "country"),
		CurrencyPair: metaString(metadata, "currency_pair"),
	}

	switch a.Type {
	case TypePriceSpike:
		a.Detail = PriceSpikeDetail{
			PreviousPrice: metaFloat(metadata, "previous_price"),
			CurrentPrice:  metaFloat(metadata, "current_price"),
			ChangePct:     metaFloat(metadata, "change_pct"),
		}
	case TypeTariffChange:
		a.Detail = TariffChangeDetail{
			OldRate: metaFloat(metadata, "old_rate"),
			NewRate: metaFloat(metadata, "new_rate"),
			Gazette: metaString(metadata, "gazette"),
		}
	case TypeFreightSurge:
		a.Detail = FreightSurgeDetail{
			Route:          metaString(metadata, "route"),
			Carrier:        metaString(metadata, "carrier"),
			IndexChangePct: metaFloat(metadata, "index_change_pct"),
		}
	case TypeFXVolatility:
		a.Detail = FXVolatilityDetail{VolatilityPct: metaFloat(metadata, "volatility_pct")}
	case TypeCustom:
		fields := make(map[string]string, len(metadata))
		for k, v := range metadata {
			fields[k] = fmt.Sprint(v)
		}
		a.Detail = CustomDetail{Fields: fields}
	}

	return a, nil
}

func (a *Anomaly) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Type      AnomalyType     `json:"type"`
		Severity  Severity        `json:"severity"`
		Timestamp time.Time       `json:"timestamp"`
		Entities  Entities        `json:"entities"`
		Detail    json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.ID, a.Type, a.Severity, a.Timestamp, a.Entities = raw.ID, raw.Type, raw.Severity, raw.Timestamp, raw.Entities
	a.Detail = nil
	if len(raw.Detail) == 0 || string(raw.Detail) == "null" {
		return nil
	}

	var err error
	switch raw.Type {
	case TypePriceSpike:
		var d PriceSpikeDetail
		err = json.Unmarshal(raw.Detail, &d)
		a.Detail = d
	case TypeTariffChange:
		var d TariffChangeDetail
		err = json.Unmarshal(raw.Detail, &d)
		a.Detail = d
	case TypeFreightSurge:
		var d FreightSurgeDetail
		err = json.Unmarshal(raw.Detail, &d)
		a.Detail = d
	case TypeFXVolatility:
		var d FXVolatilityDetail
		err = json.Unmarshal(raw.Detail, &d)
		a.Detail = d
	case TypeCustom:
		var d CustomDetail
		err = json.Unmarshal(raw.Detail, &d)
		a.Detail = d
	default:
		return fmt.Errorf("unknown anomaly type %q", raw.Type)
	}
	return err
}

func metaString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func metaFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// Metadata flattens entity references and detail fields back into the
// free-form object the store keeps.
func (a Anomaly) Metadata() map[string]any {
	m := make(map[string]any)
	if custom, ok := a.Detail.(CustomDetail); ok {
		for k, v := range custom.Fields {
			m[k] = v
		}
	} else if a.Detail != nil {
		if raw, err := json.Marshal(a.Detail); err == nil {
			_ = json.Unmarshal(raw, &m)
		}
	}
	for k, v := range map[string]string{
		"product":       a.Entities.Product,
		"company":       a.Entities.Company,
		"hs_code":       a.Entities.HSCode,
		"country":       a.Entities.Country,
		"currency_pair": a.Entities.CurrencyPair,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}
