package domain

// Transform is applied to the summed points of a rule set before clamping.
type Transform string

const (
	TransformNone     Transform = "none"
	TransformLogistic Transform = "logistic"
)

// RuleSet is a declarative scoring table evaluated by the rule engine.
// The score is clamp(transform(Base + Σ factor points), Floor, Ceiling).
type RuleSet struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Base        float64   `json:"base" yaml:"base"`
	Transform   Transform `json:"transform" yaml:"transform"`
	Floor       float64   `json:"floor" yaml:"floor"`
	Ceiling     float64   `json:"ceiling" yaml:"ceiling"`
	Factors     []Factor  `json:"factors" yaml:"factors"`
	Tags        []TagRule `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Factor is an else-if chain: the first band whose predicate holds contributes.
type Factor struct {
	Name  string `json:"name" yaml:"name"`
	Bands []Band `json:"bands" yaml:"bands"`
}

// Band pairs a CEL predicate with the points it contributes.
type Band struct {
	When   string  `json:"when" yaml:"when"`
	Points float64 `json:"points" yaml:"points"`
}

// TagRule attaches Label to an entity when the predicate holds.
type TagRule struct {
	Label string `json:"label" yaml:"label"`
	When  string `json:"when" yaml:"when"`
}

// Contribution records the points one factor added to a score.
type Contribution struct {
	Factor string  `json:"factor"`
	Points float64 `json:"points"`
}

// RuleResult is the output of evaluating a rule set over one row.
type RuleResult struct {
	RuleSetID     string         `json:"ruleSetId"`
	Raw           float64        `json:"raw"`
	Score         float64        `json:"score"`
	Contributions []Contribution `json:"contributions,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Errors        int            `json:"errors,omitempty"`
}

// Weighted is one input to a weighted composite score.
type Weighted struct {
	Column string  `json:"column" yaml:"column"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// Composite is a weighted sum of columns compared against a threshold.
type Composite struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Components []Weighted `json:"components" yaml:"components"`
	Threshold  float64    `json:"threshold" yaml:"threshold"`
	Min        float64    `json:"min" yaml:"min"`
	Max        float64    `json:"max" yaml:"max"`
}

// CompositeResult is the output of a composite evaluation.
type CompositeResult struct {
	CompositeID    string         `json:"compositeId"`
	Score          float64        `json:"score"`
	Threshold      float64        `json:"threshold"`
	MeetsThreshold bool           `json:"meetsThreshold"`
	Contributions  []Contribution `json:"contributions"`
}
