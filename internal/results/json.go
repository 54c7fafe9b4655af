package results

import (
	"encoding/json"
	"math"

	"propd/domain/compositional"
)

// NullFloat marshals NaN and infinities as JSON null; encoding/json rejects
// them outright.
type NullFloat float64

func (f NullFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// ResultJSON mirrors compositional.ResultRow with null-safe numeric columns.
type ResultJSON struct {
	Partner  string    `json:"Partner"`
	Pair     string    `json:"Pair"`
	Theta    NullFloat `json:"theta"`
	ThetaE   NullFloat `json:"theta_e"`
	ThetaF   NullFloat `json:"theta_f"`
	LRV      NullFloat `json:"lrv"`
	LRV1     NullFloat `json:"lrv1"`
	LRV2     NullFloat `json:"lrv2"`
	LRM1     NullFloat `json:"lrm1"`
	LRM2     NullFloat `json:"lrm2"`
	P1       NullFloat `json:"p1"`
	P2       NullFloat `json:"p2"`
	P        NullFloat `json:"p"`
	ThetaMod NullFloat `json:"theta_mod"`
	FStat    NullFloat `json:"Fstat"`
	PVal     NullFloat `json:"Pval"`
}

// ToJSON converts a result row for marshaling.
func ToJSON(row compositional.ResultRow) ResultJSON {
	return ResultJSON{
		Partner:  row.Partner,
		Pair:     row.Pair,
		Theta:    NullFloat(row.Theta),
		ThetaE:   NullFloat(row.ThetaE),
		ThetaF:   NullFloat(row.ThetaF),
		LRV:      NullFloat(row.LRV),
		LRV1:     NullFloat(row.LRV1),
		LRV2:     NullFloat(row.LRV2),
		LRM1:     NullFloat(row.LRM1),
		LRM2:     NullFloat(row.LRM2),
		P1:       NullFloat(row.P1),
		P2:       NullFloat(row.P2),
		P:        NullFloat(row.P),
		ThetaMod: NullFloat(row.ThetaMod),
		FStat:    NullFloat(row.FStat),
		PVal:     NullFloat(row.PVal),
	}
}

// FDRJSON mirrors compositional.FDRRow with null-safe numeric columns.
type FDRJSON struct {
	Cutoff     NullFloat `json:"cutoff"`
	RandCounts NullFloat `json:"randcounts"`
	TrueCounts NullFloat `json:"truecounts"`
	FDR        NullFloat `json:"fdr"`
}

// FDRToJSON converts an FDR row for marshaling.
func FDRToJSON(row compositional.FDRRow) FDRJSON {
	return FDRJSON{
		Cutoff:     NullFloat(row.Cutoff),
		RandCounts: NullFloat(row.RandCounts),
		TrueCounts: NullFloat(row.TrueCounts),
		FDR:        NullFloat(row.FDR),
	}
}
