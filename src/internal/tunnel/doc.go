// Package tunnel owns the virtual interface that captures DNS traffic.
//
// A Handle is the provisioned TUN device: the session reads frames from it
// through a FrameSource and the dispatcher writes replies back with Write,
// one whole frame per call. LinuxProvisioner creates the device, assigns the
// tunnel address, installs the routes that send DNS into it and, when
// enabled, the iptables rules that redirect host DNS to the tunnel DNS
// address.
//
// FrameSource turns the blocking descriptor into an interruptible reader:
//
//	src, _ := tunnel.NewFrameSource(handle)
//	go func() { <-ctx.Done(); src.Interrupt() }()
//	for {
//	    frame, err := src.Read()
//	    if errors.Is(err, errors.ErrReadCancelled) {
//	        break
//	    }
//	    ...
//	}
package tunnel
