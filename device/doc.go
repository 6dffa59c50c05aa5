// Package device owns a Vulkan logical device together with the queues and
// command pools derived from it.
//
// A Manager is created Uninitialized, becomes Ready after a successful Create
// and returns to Uninitialized on Destroy. One-off device work (uploads,
// layout transitions) goes through WithCommandBuffer, which allocates,
// records, submits and waits on a single transient command buffer.
//
// The package never talks to Vulkan directly. All native calls go through a
// Driver; package vkbackend provides the vkngwrapper implementation and
// package devicetest a counting fake.
package device
