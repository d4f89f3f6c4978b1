package storage

// Driver selects the ledger backend
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverDynamoDB Driver = "dynamodb"
	DriverMongo    Driver = "mongo"
)

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode           DynamoMode
	Endpoint       string // for local mode
	Region         string
	UsersTable     string
	AnsweredTable  string
	AbandonedTable string
}

// MongoConfig holds MongoDB configuration
type MongoConfig struct {
	URI      string
	Database string
}

// Config selects and configures the store
type Config struct {
	Driver     Driver
	SQLitePath string
	Dynamo     DynamoConfig
	Mongo      MongoConfig
}
