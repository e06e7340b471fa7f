// Package plugin lets extensions contribute isolated routers to the gateway.
//
// Each plug-in registers its handlers on a dedicated subrouter under the
// gateway's API prefix and picks a forwarding policy deciding, per route,
// whether the gateway answers locally or defers to Upstream. Routes the
// gateway answers itself form the backstop set; everything else is reverse
// proxied.
package plugin
