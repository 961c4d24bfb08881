package common

// Environment variable keys
const (
	EnvConfigFile  = "CONFIG_FILE"
	EnvAPIBaseURL  = "API_BASE_URL"
	EnvDataPath    = "DATA_PATH"
	EnvRESTTimeout = "REST_TIMEOUT"
	EnvListenAddr  = "LISTEN_ADDR"
	EnvLogLevel    = "LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultDataPath       = "data"
	DefaultListenAddr     = ":8090"
	DefaultLogLevel       = "info"
	DefaultRESTTimeoutSec = 30
	DefaultDBFile         = "segmentation-history.db"
)

// History slots and capacities
const (
	RetrainHistorySlot    = "retrainHistory"
	PredictionHistorySlot = "customerPredictions"

	RetrainHistoryCapacity    = 10
	PredictionHistoryCapacity = 20
)

// Validation bounds
const (
	MinClusterCount   = 2
	MaxClusterCount   = 10
	MaxAnnualIncome   = 200.0 // thousands
	MinSpendingScore  = 1.0
	MaxSpendingScore  = 100.0
	MinRESTTimeoutSec = 1
	MaxRESTTimeoutSec = 120
)

// Common error messages
const (
	ErrMsgBaseURLRequired   = "API base URL is required"
	ErrMsgDataPathRequired  = "data path is required"
	ErrMsgClusterCountRange = "number of clusters must be between 2 and 10"
	ErrMsgIncomeRange       = "annual income must be greater than 0 and at most 200 (thousands)"
	ErrMsgSpendingRange     = "spending score must be between 1 and 100"
)
