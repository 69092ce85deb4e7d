package whatsapp

// The incoming observer lives inside the driven page: a MutationObserver
// watches the chat region for newly rendered message previews and forwards
// each accepted {from, body} pair across the page/host boundary through a
// single exposed bridge function.

const bridgeFunctionName = "onIncomingFromPage"

// observerScript installs the in-page watcher. Per-node parse failures are
// swallowed so one bad DOM fragment never kills the observer.
const observerScript = `(() => {
	const observer = new MutationObserver((mutations) => {
		for (const mutation of mutations) {
			for (const node of mutation.addedNodes) {
				try {
					const element = node;
					const preview = element.querySelector?.('div[dir="ltr"] span')?.textContent;
					const from = element.querySelector?.('._3ko75')?.textContent || 'Unknown';

					if (preview && preview.trim() && !preview.includes('typing')) {
						window.onIncomingFromPage({ from: from, body: preview.trim() });
					}
				} catch (e) {
					// Ignore errors in DOM parsing
				}
			}
		}
	});

	const chatList = document.querySelector('div[role="region"]');
	if (chatList) {
		observer.observe(chatList, { childList: true, subtree: true });
		return true;
	}
	return false;
})()`

// installObserver exposes the host bridge function and attaches the in-page
// watcher. Failures are reported but treated as non-fatal by the caller.
func (d *Driver) installObserver(page sessionPage) error {
	err := page.ExposeFunction(bridgeFunctionName, func(args ...interface{}) interface{} {
		if len(args) == 0 {
			return nil
		}
		msg, ok := decodeIncoming(args[0])
		if !ok {
			d.log.Warnf("dropping undecodable bridge payload: %T", args[0])
			return nil
		}

		d.log.Infof("incoming message detected from %s", msg.From)

		d.mu.Lock()
		handler := d.incoming
		d.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
		return nil
	})
	if err != nil {
		return err
	}

	attached, err := page.Evaluate(observerScript)
	if err != nil {
		return err
	}
	if ok, _ := attached.(bool); !ok {
		d.log.Warnf("chat region not found, observer not attached")
		return nil
	}

	d.log.Infof("message observer attached")
	return nil
}

// decodeIncoming converts a bridge payload into an IncomingMessage. The
// boundary is untyped, so decoding is tolerant and never raises: anything
// without a non-empty body is discarded.
func decodeIncoming(v interface{}) (IncomingMessage, bool) {
	fields, ok := v.(map[string]interface{})
	if !ok {
		return IncomingMessage{}, false
	}

	body, _ := fields["body"].(string)
	if body == "" {
		return IncomingMessage{}, false
	}

	from, _ := fields["from"].(string)
	if from == "" {
		from = "Unknown"
	}

	return IncomingMessage{From: from, Body: body}, true
}
