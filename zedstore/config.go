package zedstore

// Config holds the tunables a table is opened with. Zero values mean
// "use the default", applied by WithDefaults.
type Config struct {
	// PageSize is the fixed block size used by every tree (tid tree and
	// every attribute tree) and by the toast chain.
	PageSize int
	// CompressionThreshold is kept in the table's Config but is not
	// passed to zs: zs snappy-compresses encoded items of 128 bytes or
	// more, a fixed threshold of its own.
	CompressionThreshold int
	// MaintenanceWorkMem bounds how many dead tids a single Vacuum pass
	// collects before reclaiming them, so a vacuum of a huge table does
	// not have to hold every dead tid in memory at once.
	MaintenanceWorkMem int
	// ToastThreshold is the encoded value size, in bytes, above which a
	// column value is pushed out-of-line into the toast chain instead
	// of being stored inline in the attribute tree.
	ToastThreshold int
}

const (
	defaultPageSize             = 8192
	defaultCompressionThreshold = 128
	defaultMaintenanceWorkMem   = 4096
	defaultToastThreshold       = 2000
)

// WithDefaults returns a copy of c with every zero field replaced by
// its default, matching the conventional PostgreSQL TOAST threshold
// for ToastThreshold.
func (c Config) WithDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = defaultCompressionThreshold
	}
	if c.MaintenanceWorkMem <= 0 {
		c.MaintenanceWorkMem = defaultMaintenanceWorkMem
	}
	if c.ToastThreshold <= 0 {
		c.ToastThreshold = defaultToastThreshold
	}
	return c
}
