package domain

import "time"

// Derived metric and label names.
const (
	MetricRevenueAtRisk = "revenue_at_risk"
	MetricEAD           = "ead"
	MetricExpectedLoss  = "expected_loss"
	MetricLoanToValue   = "loan_to_value"
	MetricOverallESG    = "overall_esg"
	MetricDeviation     = "deviation"
	MetricTrailingMean  = "trailing_mean"

	LabelCohort = "cohort"
	LabelHour   = "hour"
)

// PrimaryName is the export column for the module's primary score.
func (m Module) PrimaryName() string {
	switch m {
	case ModuleChurn:
		return "churn_probability"
	case ModuleCredit:
		return "pd"
	case ModuleFraud:
		return "fraud_score"
	case ModuleCyber:
		return "threat_score"
	case ModuleESG:
		return "esg_risk"
	case ModuleForecast:
		return "volatility_score"
	default:
		return "score"
	}
}

// SecondaryName is the export column for the secondary score, if any.
func (m Module) SecondaryName() string {
	switch m {
	case ModuleCredit:
		return "lgd"
	case ModuleCyber:
		return "anomaly_score"
	default:
		return ""
	}
}

// RetentionPoint is one point of a cohort retention curve.
type RetentionPoint struct {
	Month     int     `json:"month"`
	Retention float64 `json:"retention"`
}

// CohortRetention is the retention curve of one signup cohort.
type CohortRetention struct {
	Cohort      string           `json:"cohort"`
	Customers   int              `json:"customers"`
	ActiveRatio float64          `json:"activeRatio"`
	Curve       []RetentionPoint `json:"curve"`
}

// HeatmapRow counts entities per risk level for one group.
type HeatmapRow struct {
	Key           string            `json:"key"`
	Total         int               `json:"total"`
	Counts        map[RiskLevel]int `json:"counts"`
	AvgScore      float64           `json:"avgScore"`
	WeightedScore float64           `json:"weightedScore"`
	Exposure      float64           `json:"exposure"`
}

// PortfolioMetrics summarises a credit book.
type PortfolioMetrics struct {
	Loans              int     `json:"loans"`
	TotalExposure      float64 `json:"totalExposure"`
	ExpectedLoss       float64 `json:"expectedLoss"`
	WeightedPD         float64 `json:"weightedPd"`
	WeightedLGD        float64 `json:"weightedLgd"`
	CapitalRequirement float64 `json:"capitalRequirement"`
	RiskAdjustedReturn float64 `json:"riskAdjustedReturn"`
}

// DistributionBucket is one half-open [Lower, Upper) score bucket.
type DistributionBucket struct {
	Label    string  `json:"label"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
	Count    int     `json:"count"`
	Exposure float64 `json:"exposure"`
}

// LossPoint is one month of the cumulative expected loss curve.
type LossPoint struct {
	Month        int     `json:"month"`
	CumulativePD float64 `json:"cumulativePd"`
	ExpectedLoss float64 `json:"expectedLoss"`
}

// LevelShare is the count and share of entities at one risk level.
type LevelShare struct {
	Level      RiskLevel `json:"level"`
	Count      int       `json:"count"`
	Percentage float64   `json:"percentage"`
}

// LabelCount counts occurrences of an indicator label.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Graph node types.
const (
	NodeAccount = "account"
	NodeDevice  = "device"
	NodeIP      = "ip"
)

// GraphNode is an account, device or IP address in the fraud network.
type GraphNode struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	Label            string    `json:"label"`
	FraudScore       float64   `json:"fraudScore"`
	TransactionCount int       `json:"transactionCount"`
	TotalAmount      float64   `json:"totalAmount"`
	RiskLevel        RiskLevel `json:"riskLevel"`
}

// GraphEdge links two nodes that appeared in the same transactions.
type GraphEdge struct {
	Source           string  `json:"source"`
	Target           string  `json:"target"`
	Weight           float64 `json:"weight"`
	TransactionCount int     `json:"transactionCount"`
}

// NetworkGraph is the truncated account/device/IP graph.
type NetworkGraph struct {
	Nodes      []GraphNode `json:"nodes"`
	Edges      []GraphEdge `json:"edges"`
	TotalNodes int         `json:"totalNodes"`
	TotalEdges int         `json:"totalEdges"`
	Truncated  bool        `json:"truncated"`
}

// Session groups events sharing a session key.
type Session struct {
	ID              string     `json:"id"`
	Score           float64    `json:"score"`
	RiskLevel       RiskLevel  `json:"riskLevel"`
	Events          int        `json:"events"`
	AnomalyCount    int        `json:"anomalyCount"`
	ThreatTypes     []string   `json:"threatTypes,omitempty"`
	Subject         string     `json:"subject,omitempty"`
	IPAddress       string     `json:"ipAddress,omitempty"`
	DurationMinutes float64    `json:"durationMinutes"`
	FirstSeen       *time.Time `json:"firstSeen,omitempty"`
	LastSeen        *time.Time `json:"lastSeen,omitempty"`
}

// Alert is a prioritised finding raised from scored entities.
type Alert struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Severity    RiskLevel  `json:"severity"`
	Description string     `json:"description"`
	Score       float64    `json:"score"`
	Count       int        `json:"count"`
	EntityIDs   []string   `json:"entityIds,omitempty"`
	ObservedAt  *time.Time `json:"observedAt,omitempty"`
}

// AnomalySpike is an hour with unusual security activity.
type AnomalySpike struct {
	Hour       time.Time `json:"hour"`
	Events     int       `json:"events"`
	Anomalies  int       `json:"anomalies"`
	AvgThreat  float64   `json:"avgThreat"`
	EventTypes []string  `json:"eventTypes,omitempty"`
	Sessions   int       `json:"sessions"`
}

// TimeBucket aggregates entities by hour of day.
type TimeBucket struct {
	Hour     int     `json:"hour"`
	Count    int     `json:"count"`
	Flagged  int     `json:"flagged"`
	AvgScore float64 `json:"avgScore"`
}

// ChurnMetrics are the headline churn numbers.
type ChurnMetrics struct {
	TotalCustomers      int     `json:"totalCustomers"`
	HighRisk            int     `json:"highRisk"`
	AvgChurnProbability float64 `json:"avgChurnProbability"`
	RevenueAtRisk       float64 `json:"revenueAtRisk"`
	AnnualRevenue       float64 `json:"annualRevenue"`
}

// ESGSummary is the portfolio level ESG view.
type ESGSummary struct {
	Companies        int     `json:"companies"`
	AvgComposite     float64 `json:"avgComposite"`
	AvgEnvironmental float64 `json:"avgEnvironmental"`
	AvgSocial        float64 `json:"avgSocial"`
	AvgGovernance    float64 `json:"avgGovernance"`
	HighRisk         int     `json:"highRisk"`
	LowGovernance    int     `json:"lowGovernance"`
	TopPerformer     string  `json:"topPerformer,omitempty"`
	TopScore         float64 `json:"topScore"`
}

// ForecastPoint is one projected period.
type ForecastPoint struct {
	Step        int     `json:"step"`
	Period      string  `json:"period"`
	Forecast    float64 `json:"forecast"`
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	Seasonality float64 `json:"seasonality"`
	Trend       float64 `json:"trend"`
}

// PromoResult is the modelled return of one campaign.
type PromoResult struct {
	Campaign           string  `json:"campaign"`
	Spend              float64 `json:"spend"`
	Revenue            float64 `json:"revenue"`
	IncrementalRevenue float64 `json:"incrementalRevenue"`
	ROI                float64 `json:"roi"`
	Lift               float64 `json:"lift"`
}

// ChurnAnalysis holds the churn aggregates.
type ChurnAnalysis struct {
	Metrics      ChurnMetrics      `json:"metrics"`
	Cohorts      []CohortRetention `json:"cohorts"`
	Segments     []HeatmapRow      `json:"segments"`
	Distribution []LevelShare      `json:"distribution"`
}

// CreditAnalysis holds the credit aggregates.
type CreditAnalysis struct {
	Portfolio    PortfolioMetrics     `json:"portfolio"`
	Baseline     *PortfolioMetrics    `json:"baseline,omitempty"`
	Scenario     *Scenario            `json:"scenario,omitempty"`
	Distribution []DistributionBucket `json:"distribution"`
	Grades       []HeatmapRow         `json:"grades"`
	Purposes     []HeatmapRow         `json:"purposes"`
	LossCurve    []LossPoint          `json:"lossCurve"`
	HighPD       int                  `json:"highPd"`
}

// FraudAnalysis holds the fraud aggregates.
type FraudAnalysis struct {
	Distribution     []LevelShare `json:"distribution"`
	Network          NetworkGraph `json:"network"`
	Alerts           []Alert      `json:"alerts"`
	Sessions         []Session    `json:"sessions"`
	Timeline         []TimeBucket `json:"timeline"`
	Anomalies        []LabelCount `json:"anomalies"`
	TotalVolume      float64      `json:"totalVolume"`
	Suspicious       int          `json:"suspicious"`
	SuspiciousVolume float64      `json:"suspiciousVolume"`
	CrossBorder      int          `json:"crossBorder"`
	Night            int          `json:"night"`
}

// CyberAnalysis holds the security log aggregates.
type CyberAnalysis struct {
	Distribution  []LevelShare   `json:"distribution"`
	Sessions      []Session      `json:"sessions"`
	Spikes        []AnomalySpike `json:"spikes"`
	Timeline      []TimeBucket   `json:"timeline"`
	ThreatTypes   []LabelCount   `json:"threatTypes"`
	Users         int            `json:"users"`
	IPs           int            `json:"ips"`
	Threats       int            `json:"threats"`
	Critical      int            `json:"critical"`
	OffHours      int            `json:"offHours"`
	SuspiciousGeo int            `json:"suspiciousGeo"`
}

// ESGAnalysis holds the ESG aggregates.
type ESGAnalysis struct {
	Params       ESGParams    `json:"params"`
	Summary      ESGSummary   `json:"summary"`
	Distribution []LevelShare `json:"distribution"`
	Sectors      []HeatmapRow `json:"sectors"`
}

// ForecastAnalysis holds the projection and promo results.
type ForecastAnalysis struct {
	Params       ForecastParams  `json:"params"`
	Projection   []ForecastPoint `json:"projection"`
	Promos       []PromoResult   `json:"promos"`
	AvgForecast  float64         `json:"avgForecast"`
	AvgROI       float64         `json:"avgRoi"`
	BestCampaign string          `json:"bestCampaign,omitempty"`
	BestROI      float64         `json:"bestRoi"`
}

// Report is the result of one analysis run.
type Report struct {
	ID          string            `json:"id"`
	Module      Module            `json:"module"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Rows        int               `json:"rows"`
	Columns     []string          `json:"columns"`
	Params      Params            `json:"params"`
	Entities    []ScoredEntity    `json:"entities"`
	Churn       *ChurnAnalysis    `json:"churn,omitempty"`
	Credit      *CreditAnalysis   `json:"credit,omitempty"`
	Fraud       *FraudAnalysis    `json:"fraud,omitempty"`
	Cyber       *CyberAnalysis    `json:"cyber,omitempty"`
	ESG         *ESGAnalysis      `json:"esg,omitempty"`
	Forecast    *ForecastAnalysis `json:"forecast,omitempty"`
	Insights    []string          `json:"insights"`
	Cached      bool              `json:"cached"`
	DurationMs  int64             `json:"durationMs"`
}
