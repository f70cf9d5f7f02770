package common

// Version is set at build time via -ldflags.
var Version = "dev"

// PackageName identifies this service in logs and metrics.
const PackageName = "securemarket"
