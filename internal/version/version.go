package version

// Version is the build version of mediconnect, set at release time with
//
//	go build -ldflags="-X 'github.com/rehaani/mediconnect/internal/version.Version=v1.0.0'"
var Version = "dev"
