// internal/browser/script.go
package browser

// observeScript runs in the page and produces the structured observation.
// Each interactable gets a hierarchical name derived from its closest
// landmark ancestor plus a slug of its visible label, disambiguated with an
// index when labels collide. The name is stamped back onto the element so a
// later command can resolve it with a plain attribute selector.
const observeScript = `(() => {
  const ATTR = "data-usersim-target";
  const seen = new Map();

  const slug = (text) =>
    (text || "").trim().toLowerCase()
      .replace(/[^a-z0-9]+/g, "_")
      .replace(/^_+|_+$/g, "")
      .slice(0, 40) || "unnamed";

  const landmarkOf = (el) => {
    const lm = el.closest("header, nav, main, aside, footer, form, [role=dialog]");
    if (!lm) return "body";
    return lm.getAttribute("role") || lm.tagName.toLowerCase();
  };

  const labelOf = (el) => {
    if (el.labels && el.labels.length > 0) return el.labels[0].innerText;
    return el.getAttribute("aria-label") || el.innerText ||
      el.getAttribute("placeholder") || el.getAttribute("name") ||
      el.getAttribute("title") || el.value || el.type || el.tagName;
  };

  const visible = (el) => {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) return false;
    const style = window.getComputedStyle(el);
    return style.visibility !== "hidden" && style.display !== "none";
  };

  const nameFor = (el, role) => {
    let base = landmarkOf(el) + "/" + role + "/" + slug(labelOf(el));
    const n = seen.get(base) || 0;
    seen.set(base, n + 1);
    const name = n === 0 ? base : base + "_" + n;
    el.setAttribute(ATTR, name);
    return name;
  };

  const clickables = [];
  document.querySelectorAll(
    "a[href], button, [role=button], input[type=submit], input[type=button], [onclick]"
  ).forEach((el) => {
    if (!visible(el)) return;
    const label = (labelOf(el) || "").trim().replace(/\s+/g, " ").slice(0, 120);
    clickables.push({ name: nameFor(el, "link_or_button"), description: label });
  });

  const inputs = [];
  document.querySelectorAll("input, textarea, select").forEach((el) => {
    const type = (el.getAttribute("type") || "text").toLowerCase();
    if (["submit", "button", "hidden"].includes(type)) return;
    if (!visible(el)) return;
    const label = (labelOf(el) || "").trim().replace(/\s+/g, " ").slice(0, 120);
    inputs.push({ name: nameFor(el, "input"), description: label + " (" + type + ")" });
  });

  const text_blocks = [];
  document.querySelectorAll("h1, h2, h3, p, ul, ol").forEach((el) => {
    if (!visible(el)) return;
    if (el.tagName === "UL" || el.tagName === "OL") {
      const items = Array.from(el.querySelectorAll(":scope > li"))
        .map((li) => li.innerText.trim().replace(/\s+/g, " ").slice(0, 200))
        .filter((t) => t.length > 0)
        .slice(0, 10);
      if (items.length > 0) text_blocks.push({ type: "list", items });
      return;
    }
    const text = el.innerText.trim().replace(/\s+/g, " ").slice(0, 400);
    if (text.length === 0) return;
    text_blocks.push({
      type: el.tagName.startsWith("H") ? "heading" : "paragraph",
      text,
    });
  });

  return {
    url: window.location.href,
    title: document.title,
    clickables: clickables.slice(0, 60),
    inputs: inputs.slice(0, 30),
    text_blocks: text_blocks.slice(0, 40),
  };
})()`
