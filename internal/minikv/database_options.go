package minikv

type DatabaseOption func(*Database)

// WithDegree sets the degree of trees created by this database.
func WithDegree(degree int) DatabaseOption {
	return func(d *Database) {
		d.degree = degree
	}
}

func WithCacheBlocks(blocks int) DatabaseOption {
	return func(d *Database) {
		d.cacheBlocks = blocks
	}
}

// DefaultCheckpointEvery is the number of mutations between automatic checkpoints.
const DefaultCheckpointEvery = 1000

// WithCheckpointEvery flushes the buffer cache after every n mutations,
// zero disables periodic checkpoints.
func WithCheckpointEvery(n int) DatabaseOption {
	return func(d *Database) {
		if n >= 0 {
			d.checkpointEvery = n
		}
	}
}

// WithSync controls whether every log append is followed by fsync.
func WithSync(enabled bool) DatabaseOption {
	return func(d *Database) {
		d.syncLog = enabled
	}
}
