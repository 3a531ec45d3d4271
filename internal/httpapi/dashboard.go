package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>LeadSync Board</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --warn: #e88a3d;
      --danger: #c2483f;
      --muted: #6f7d7d;
    }
    * { box-sizing: border-box; }
    body { margin: 0; font-family: "IBM Plex Sans", system-ui, sans-serif; background: var(--paper); color: var(--ink); }
    header { display: flex; gap: 1.5rem; align-items: center; padding: 1rem 1.5rem; border-bottom: 1px solid var(--line); }
    header h1 { font-size: 1.1rem; margin: 0; }
    .pill { padding: 0.2rem 0.6rem; border-radius: 999px; font-size: 0.8rem; background: var(--card); border: 1px solid var(--line); }
    .pill.ok { color: var(--accent); }
    .pill.warn { color: var(--warn); }
    .pill.bad { color: var(--danger); }
    #metrics { display: flex; gap: 1rem; padding: 0.75rem 1.5rem; }
    #metrics div { background: var(--card); border: 1px solid var(--line); border-radius: 8px; padding: 0.5rem 0.8rem; min-width: 8rem; }
    #metrics b { display: block; font-size: 1.3rem; }
    #board { display: grid; grid-auto-flow: column; grid-auto-columns: minmax(14rem, 1fr); gap: 0.75rem; padding: 0 1.5rem 1.5rem; overflow-x: auto; }
    .column { background: var(--card); border: 1px solid var(--line); border-radius: 8px; padding: 0.6rem; }
    .column h2 { font-size: 0.9rem; margin: 0 0 0.5rem; display: flex; justify-content: space-between; }
    .lead { border-top: 1px solid var(--line); padding: 0.4rem 0; font-size: 0.85rem; }
    .lead small { color: var(--muted); display: block; }
  </style>
</head>
<body>
  <header>
    <h1>LeadSync</h1>
    <span id="sync" class="pill">connecting</span>
    <span id="freshness" class="pill">freshness -</span>
    <span id="notices" class="pill">0 notices</span>
  </header>
  <section id="metrics"></section>
  <main id="board"></main>
  <script>
    (function () {
      const base = window.location.origin;
      const el = (id) => document.getElementById(id);

      async function getJSON(path) {
        const res = await fetch(base + path);
        if (!res.ok) throw new Error(path + " " + res.status);
        return res.json();
      }

      function renderMetrics(m) {
        const cells = [
          ["Total leads", m.totalLeads],
          ["Conversion", (m.conversionRatePercent || 0) + "%"],
          ["Avg response", Math.round((m.avgResponseTimeSeconds || 0) / 60) + " min"]
        ];
        el("metrics").innerHTML = cells.map(([k, v]) => "<div>" + k + "<b>" + v + "</b></div>").join("");
      }

      function renderBoard(columns) {
        el("board").innerHTML = columns.map((col) => {
          const leads = (col.leads || []).map((l) =>
            "<div class=\"lead\">" + l.name + "<small>" + (l.source || "") + "</small></div>").join("");
          return "<div class=\"column\"><h2><span>" + col.stageName + "</span><span>" + (col.leads || []).length + "</span></h2>" + leads + "</div>";
        }).join("");
      }

      function renderStatus(s) {
        const node = el("sync");
        node.textContent = s.connected ? "live" : "reconnecting";
        node.className = "pill " + (s.connected ? "ok" : "warn");
      }

      function renderFreshness(f) {
        if (!f || !f.counts) return;
        const node = el("freshness");
        node.textContent = "fresh " + (f.counts.fresh || 0) + " / warning " + (f.counts.warning || 0) + " / critical " + (f.counts.critical || 0);
        node.className = "pill " + ((f.counts.critical || 0) > 0 ? "bad" : "ok");
      }

      async function refresh() {
        try {
          const [board, metrics, status, notices] = await Promise.all([
            getJSON("/v1/board"), getJSON("/v1/metrics"), getJSON("/v1/sync/status"), getJSON("/v1/notices")
          ]);
          renderBoard(board.columns || []);
          renderMetrics(metrics);
          renderStatus(status);
          el("notices").textContent = (notices.notices || []).length + " notices";
        } catch (err) {
          el("sync").textContent = String(err);
          el("sync").className = "pill bad";
        }
      }

      function stream() {
        const ws = new WebSocket(base.replace(/^http/, "ws") + "/v1/stream");
        ws.onmessage = (ev) => {
          const frame = JSON.parse(ev.data);
          if (frame.metrics) renderMetrics(frame.metrics);
          if (frame.freshness) renderFreshness(frame.freshness);
          if (frame.type !== "freshness") refresh();
        };
        ws.onclose = () => setTimeout(stream, 2000);
      }

      refresh();
      stream();
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
