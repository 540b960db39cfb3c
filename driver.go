package cache

// Driver identifies cache backend.
type Driver string

const (
	DriverNull   Driver = "null"
	DriverMemory Driver = "memory"
	DriverDynamo Driver = "dynamodb"
	DriverSQL    Driver = "sql"
	DriverRedis  Driver = "redis"
	DriverNATS   Driver = "nats"
)
