package resolution

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/calc"
)

// Number is a signed fixed-point value equal to ±Value/Multiplier.
type Number struct {
	Value      decimal.Decimal
	Multiplier decimal.Decimal
	Negative   bool
}

// IsNegativeZero reports a zero magnitude carrying a negative sign.
func (n Number) IsNegativeZero() bool {
	return n.Negative && n.Value.IsZero()
}

// Validate checks the magnitude and multiplier are wire-sized integers.
func (n Number) Validate() error {
	if err := calc.ValidateWireAmount(n.Value, "numeric value"); err != nil {
		return err
	}
	if err := calc.ValidateAmount(n.Multiplier, "numeric multiplier"); err != nil {
		return err
	}
	return nil
}

func (n Number) String() string {
	sign := ""
	if n.Negative {
		sign = "-"
	}
	return fmt.Sprintf("%s%s/%s", sign, n.Value, n.Multiplier)
}

// OutcomeTag labels one outcome of a market. Implementations are
// CategoricalTag and NumericTag.
type OutcomeTag interface {
	isOutcomeTag()
	String() string
}

type CategoricalTag struct {
	Label string
}

type NumericTag struct {
	Number
}

func (CategoricalTag) isOutcomeTag() {}
func (NumericTag) isOutcomeTag()     {}

func (t CategoricalTag) String() string { return t.Label }

// Answer is what the oracle reports for a market. Implementations are
// CategoricalAnswer, NumericAnswer and InvalidAnswer.
type Answer interface {
	isAnswer()
}

type CategoricalAnswer struct {
	Label string
}

type NumericAnswer struct {
	Number
}

// InvalidAnswer marks the market question as unanswerable.
type InvalidAnswer struct{}

func (CategoricalAnswer) isAnswer() {}
func (NumericAnswer) isAnswer()     {}
func (InvalidAnswer) isAnswer()     {}

const (
	kindCategorical = "categorical"
	kindNumeric     = "numeric"
	kindInvalid     = "invalid"
)

// Document is the tagged wire form shared by outcome tags and answers.
type Document struct {
	Type       string           `json:"type"`
	Label      string           `json:"label,omitempty"`
	Value      *decimal.Decimal `json:"value,omitempty"`
	Multiplier *decimal.Decimal `json:"multiplier,omitempty"`
	Negative   bool             `json:"negative,omitempty"`
}

func numberDocument(n Number) Document {
	value, multiplier := n.Value, n.Multiplier
	return Document{Type: kindNumeric, Value: &value, Multiplier: &multiplier, Negative: n.Negative}
}

func (d Document) number() (Number, error) {
	if d.Value == nil || d.Multiplier == nil {
		return Number{}, fmt.Errorf("%w: numeric document requires value and multiplier", apperr.ErrValidation)
	}
	return Number{Value: *d.Value, Multiplier: *d.Multiplier, Negative: d.Negative}, nil
}

// EncodeTag converts a tag to its wire document.
func EncodeTag(tag OutcomeTag) (Document, error) {
	switch t := tag.(type) {
	case CategoricalTag:
		return Document{Type: kindCategorical, Label: t.Label}, nil
	case NumericTag:
		return numberDocument(t.Number), nil
	default:
		return Document{}, fmt.Errorf("%w: unknown outcome tag %T", apperr.ErrValidation, tag)
	}
}

// DecodeTag converts a wire document to a tag.
func DecodeTag(doc Document) (OutcomeTag, error) {
	switch doc.Type {
	case kindCategorical:
		return CategoricalTag{Label: doc.Label}, nil
	case kindNumeric:
		n, err := doc.number()
		if err != nil {
			return nil, err
		}
		return NumericTag{Number: n}, nil
	default:
		return nil, fmt.Errorf("%w: unknown outcome tag type %q", apperr.ErrValidation, doc.Type)
	}
}

// EncodeAnswer converts an answer to its wire document.
func EncodeAnswer(answer Answer) (Document, error) {
	switch a := answer.(type) {
	case CategoricalAnswer:
		return Document{Type: kindCategorical, Label: a.Label}, nil
	case NumericAnswer:
		return numberDocument(a.Number), nil
	case InvalidAnswer:
		return Document{Type: kindInvalid}, nil
	default:
		return Document{}, fmt.Errorf("%w: unknown answer %T", apperr.ErrValidation, answer)
	}
}

// DecodeAnswer converts a wire document to an answer.
func DecodeAnswer(doc Document) (Answer, error) {
	switch doc.Type {
	case kindCategorical:
		return CategoricalAnswer{Label: doc.Label}, nil
	case kindNumeric:
		n, err := doc.number()
		if err != nil {
			return nil, err
		}
		return NumericAnswer{Number: n}, nil
	case kindInvalid:
		return InvalidAnswer{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown answer type %q", apperr.ErrValidation, doc.Type)
	}
}

// Tags is an ordered outcome tag list with a JSON form.
type Tags []OutcomeTag

func (ts Tags) MarshalJSON() ([]byte, error) {
	docs := make([]Document, 0, len(ts))
	for _, t := range ts {
		doc, err := EncodeTag(t)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return json.Marshal(docs)
}

func (ts *Tags) UnmarshalJSON(data []byte) error {
	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return err
	}
	out := make(Tags, 0, len(docs))
	for _, doc := range docs {
		tag, err := DecodeTag(doc)
		if err != nil {
			return err
		}
		out = append(out, tag)
	}
	*ts = out
	return nil
}
