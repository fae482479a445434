// Copyright 2016 Aleksandr Demakin. All rights reserved.

// Package proc controls the DSP: it sets up the link, attaches to the processor,
// loads an image, starts and stops it.
//	Reset --Attach--> Idle --Load--> Loaded --Start--> Started --Stop--> Stopped
//	Stopped --Load--> Loaded, any attached state --Detach--> Reset
// Hardware specific work is done by a Driver, images are read by a Loader.
package proc
