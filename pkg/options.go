package pkg

import "boulder/pkg/db"

// Option configures a DB at Open time. It is a type alias for db.Option so
// that callers of pkg.Open can use the constructors in pkg/db directly.
type Option = db.Option

type OptionFunc = db.OptionFunc
