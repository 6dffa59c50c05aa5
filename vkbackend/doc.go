// Package vkbackend implements device.Driver on top of vkngwrapper.
//
// Native objects never leave this package as vkngwrapper types through the
// device package: they are registered under opaque device.Handle values and
// translated back when a Manager calls in. Recording callbacks that need to
// issue real commands use Commands to recover the vkngwrapper objects.
package vkbackend
