package constants

// TierID identifies one extraction strategy in the fallback precedence.
type TierID string

const (
	TierGenerative  TierID = "A_generative"
	TierEntities    TierID = "B_entities"
	TierTables      TierID = "C_tables"
	TierTextPattern TierID = "D_text_pattern"
)

// TierPrecedence is the fixed order the orchestrator walks.
var TierPrecedence = []TierID{TierGenerative, TierEntities, TierTables, TierTextPattern}

// External reports whether the tier calls an out-of-process service.
func (t TierID) External() bool {
	return t != TierTextPattern
}

// Strategy is the processing recommendation produced by the analyzer.
type Strategy string

const (
	StrategyGenerative           Strategy = "generative"
	StrategyGenerativeChunked    Strategy = "generative_chunked"
	StrategyStructuredExtraction Strategy = "structured_extraction"
)

// SubTier names one step of the quantity/price sub-extractors.
type SubTier string

const (
	SubTierTabular SubTier = "tabular"
	SubTierPattern SubTier = "pattern"
	SubTierContext SubTier = "context"
	SubTierPage    SubTier = "page"
)

// DefaultQuantityOrder and DefaultPriceOrder apply when a vendor profile sets no order.
var (
	DefaultQuantityOrder = []SubTier{SubTierTabular, SubTierPattern, SubTierContext}
	DefaultPriceOrder    = []SubTier{SubTierTabular, SubTierPattern, SubTierPage}
)

// UnknownVendor is the tag returned when no profile matches.
const UnknownVendor = "unknown"
