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
  <title>contentmirror</title>
  <style>
    :root {
      --ink: #102223;
      --paper: #f8f4ea;
      --card: #fffdf9;
      --line: #d7cbb3;
      --accent: #1f9d88;
      --danger: #c2483f;
      --muted: #6f7d7d;
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      padding: 20px;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--ink);
      background: var(--paper);
    }
    header { display: flex; gap: 12px; align-items: center; margin-bottom: 16px; }
    header h1 { font-size: 20px; margin: 0; flex: 1; }
    input { padding: 6px 8px; border: 1px solid var(--line); border-radius: 6px; min-width: 280px; }
    button { padding: 6px 12px; border: 0; border-radius: 6px; background: var(--accent); color: #fff; cursor: pointer; }
    .grid { display: grid; grid-template-columns: 1fr 2fr; gap: 16px; }
    .card { background: var(--card); border: 1px solid var(--line); border-radius: 10px; padding: 14px; }
    .card h2 { font-size: 14px; text-transform: uppercase; color: var(--muted); margin: 0 0 10px; }
    dl { display: grid; grid-template-columns: max-content 1fr; gap: 4px 12px; margin: 0; }
    dt { color: var(--muted); }
    table { width: 100%; border-collapse: collapse; font-size: 13px; }
    th, td { text-align: left; padding: 4px 6px; border-bottom: 1px solid var(--line); }
    .held { color: var(--danger); font-weight: 600; }
    .failed { color: var(--danger); }
    #events { font-family: ui-monospace, monospace; font-size: 12px; max-height: 360px; overflow: auto; margin: 0; }
  </style>
</head>
<body>
  <header>
    <h1>contentmirror</h1>
    <input id="token" type="password" placeholder="admin token (optional)" />
    <button id="refresh">Refresh</button>
  </header>
  <div class="grid">
    <section class="card">
      <h2>Run lock</h2>
      <dl id="lock"></dl>
    </section>
    <section class="card">
      <h2>Last run</h2>
      <p id="run-meta"></p>
      <table>
        <thead><tr><th>collection</th><th>fetched</th><th>written</th><th>unchanged</th><th>redirects</th><th>slugs</th><th>removed</th></tr></thead>
        <tbody id="mappings"></tbody>
      </table>
    </section>
    <section class="card" style="grid-column: 1 / -1">
      <h2>Live events</h2>
      <pre id="events"></pre>
    </section>
  </div>
  <script>
    (function () {
      const base = window.location.pathname.replace(/\/dashboard\/?$/, "");
      const dom = {
        token: document.getElementById("token"),
        lock: document.getElementById("lock"),
        runMeta: document.getElementById("run-meta"),
        mappings: document.getElementById("mappings"),
        events: document.getElementById("events"),
      };
      let socket = null;

      function authHeaders() {
        const token = dom.token.value.trim();
        return token ? { Authorization: "Bearer " + token } : {};
      }

      function row(cells) {
        const tr = document.createElement("tr");
        cells.forEach(function (value) {
          const td = document.createElement("td");
          td.textContent = String(value);
          tr.appendChild(td);
        });
        return tr;
      }

      function renderLock(lock) {
        dom.lock.innerHTML = "";
        const entries = [
          ["backend", lock.backend],
          ["held", lock.held ? "yes" : "no"],
          ["stale", lock.stale ? "yes" : "no"],
          ["acquired", lock.acquiredAt || "-"],
          ["ttl", Math.round((lock.ttl || 0) / 1e9) + "s"],
        ];
        entries.forEach(function (entry) {
          const dt = document.createElement("dt");
          dt.textContent = entry[0];
          const dd = document.createElement("dd");
          dd.textContent = entry[1];
          if (entry[0] === "held" && lock.held) dd.className = "held";
          dom.lock.appendChild(dt);
          dom.lock.appendChild(dd);
        });
      }

      function renderRun(run) {
        dom.mappings.innerHTML = "";
        if (!run) {
          dom.runMeta.textContent = "no run yet";
          return;
        }
        dom.runMeta.textContent = run.runId + " finished " + run.finishedAt + (run.error ? " with error: " + run.error : "");
        dom.runMeta.className = run.error ? "failed" : "";
        (run.mappings || []).forEach(function (m) {
          dom.mappings.appendChild(row([m.collection, m.fetched, m.written, m.unchanged, m.redirects, m.slugs, (m.removed || []).length]));
        });
      }

      function logEvent(text) {
        dom.events.textContent = text + "\n" + dom.events.textContent;
      }

      async function refresh() {
        const resp = await fetch(base + "/status", { headers: authHeaders() });
        const body = await resp.json();
        if (!resp.ok) {
          logEvent("status: " + (body.message || resp.status));
          return;
        }
        renderLock(body.lock || {});
        renderRun(body.lastRun);
      }

      function connect() {
        if (socket) socket.close();
        const scheme = window.location.protocol === "https:" ? "wss:" : "ws:";
        let url = scheme + "//" + window.location.host + base + "/events";
        const token = dom.token.value.trim();
        if (token) url += "?access_token=" + encodeURIComponent(token);
        socket = new WebSocket(url);
        socket.onmessage = function (msg) {
          const ev = JSON.parse(msg.data);
          logEvent(ev.time + " " + ev.type + (ev.collection ? " " + ev.collection : "") + (ev.error ? " " + ev.error : ""));
          if (ev.type !== "mapping.completed") refresh();
        };
        socket.onclose = function () { logEvent("event stream closed"); };
      }

      document.getElementById("refresh").addEventListener("click", function () {
        refresh();
        connect();
      });
      refresh();
      connect();
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
