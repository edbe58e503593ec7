package looper

import (
	"golang.org/x/sync/errgroup"
)

// Merge fans several streams into one. Responses of each input keep their
// relative order; there is no ordering across inputs. Unsubscribing the
// merged stream unsubscribes every input.
func Merge(streams ...*Stream) *Stream {
	if len(streams) == 1 {
		return streams[0]
	}
	merged := newStream()

	var g errgroup.Group
	for _, in := range streams {
		g.Go(func() error {
			forward(in, merged)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		merged.finish()
	}()
	return merged
}

func forward(in, merged *Stream) {
	for {
		select {
		case rsp, ok := <-in.Responses():
			if !ok {
				return
			}
			select {
			case merged.out <- rsp:
			case <-merged.detach:
				in.Unsubscribe()
				<-in.Done()
				return
			}
		case <-merged.detach:
			in.Unsubscribe()
			<-in.Done()
			return
		}
	}
}
