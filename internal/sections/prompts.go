package sections

// --- Section Identifier Prompts ---
const IdentifierSystemPrompt = "You are a specialist document analysis tool. Your task is to locate the top-level sections of a long document and report where each one begins. You must output your response as a single valid JSON object."

const identifierUserPrompt = `Analyze the document below and list its top-level sections.

Follow these rules precisely:
1.  A top-level section is a numbered section ("1. Introduction", "2 Methods", "IV. Results") or a standard heading such as Abstract, Introduction, Background, Methods, Results, Discussion, Conclusion, Acknowledgements.
2.  Ignore subsections ("2.1", "3.4.2"), figure and table captions, running headers and footers, and individual reference entries.
3.  For each section return:
    - "title": the section heading exactly as written, without its number.
    - "startMarker": the first 8 to 12 words of the section body, copied character for character from the document. Do not include the heading itself. Do not fix typos, spacing or punctuation.
    - "order": the 1-based position of the section in the document.
4.  Orders must be 1, 2, 3, ... with no gaps or repeats, in reading order.
5.  If the document has no headings at all, return a single section titled with the document's subject whose marker is its first words.

Output format:
{"sections": [{"title": "Introduction", "startMarker": "Large language models have recently been applied to", "order": 1}]}

Document:
%s`
