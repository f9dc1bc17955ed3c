package opbridge

// Version is the bridge release reported to the core as the integration
// version.
const Version = "0.1.0"
