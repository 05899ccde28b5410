// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fpgalinkd

import "testing"

// A signal can stop the daemon before Main has set anything up; Close
// must not trip over a nil stop channel.
func TestCloseBeforeMain(t *testing.T) {
	d := &Daemon{}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-d.stopCh():
	default:
		t.Fatal("stop channel still open")
	}
}
