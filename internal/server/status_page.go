package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// statusPageHandler serves a simple ops page to eyeball service health
// and the realtime event feed.
func (s *Server) statusPageHandler(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, statusPageHTML)
}

const statusPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Waveform Status</title>
    <style>
        body { font-family: monospace; background: #111; color: #0f0; padding: 20px; }
        pre { background: #222; padding: 10px; overflow: auto; }
        .error { color: #f00; }
        .success { color: #0f0; }
        h2 { color: #0ff; margin-top: 20px; }
    </style>
</head>
<body>
    <h1>Waveform Status</h1>

    <h2>1. Health (/health)</h2>
    <pre id="health">Loading...</pre>

    <h2>2. Readiness (/health/ready)</h2>
    <pre id="ready">Loading...</pre>

    <h2>3. Live settlement events (/ws)</h2>
    <pre id="events">Connecting...</pre>

    <script>
        async function probe(endpoint, elementId) {
            const el = document.getElementById(elementId);
            try {
                const res = await fetch(endpoint);
                const data = await res.json();
                el.className = res.ok ? 'success' : 'error';
                el.textContent = JSON.stringify(data, null, 2);
            } catch (e) {
                el.className = 'error';
                el.textContent = 'ERROR: ' + e.message;
            }
        }

        probe('/health', 'health');
        probe('/health/ready', 'ready');

        const eventsEl = document.getElementById('events');
        const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
        const ws = new WebSocket(proto + '//' + location.host + '/ws');
        const lines = [];
        ws.onopen = () => { eventsEl.textContent = 'Connected. Waiting for events...'; };
        ws.onerror = () => { eventsEl.className = 'error'; eventsEl.textContent = 'WebSocket error'; };
        ws.onmessage = (msg) => {
            lines.unshift(msg.data);
            if (lines.length > 20) lines.pop();
            eventsEl.textContent = lines.join('\n');
        };
    </script>
</body>
</html>`
