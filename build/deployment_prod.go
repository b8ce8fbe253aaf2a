//go:build prod
// +build prod

package build

// Deployment specifies a production deployment.
const Deployment = Production
